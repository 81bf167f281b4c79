package room

import (
	"testing"
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
)

func TestRegistryGetOrCreateReusesRoom(t *testing.T) {
	reg := NewRegistry[string]()
	hash := identity.HashRoom("app", "room-1")

	r1 := reg.GetOrCreate(hash)
	r2 := reg.GetOrCreate(hash)
	if r1 != r2 {
		t.Fatalf("expected GetOrCreate to return the same room instance")
	}
	if reg.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistryGetMissing(t *testing.T) {
	reg := NewRegistry[string]()
	if _, ok := reg.Get(identity.HashRoom("app", "nope")); ok {
		t.Fatalf("Get() on unknown hash should report ok=false")
	}
}

func TestRegistryGCDestroysEmptyRooms(t *testing.T) {
	reg := NewRegistry[string]()
	hash := identity.HashRoom("app", "room-2")
	reg.GetOrCreate(hash)

	if destroyed := reg.GC(); destroyed != 1 {
		t.Fatalf("GC() = %d, want 1", destroyed)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() after GC = %d, want 0", reg.Count())
	}
}

func TestRegistryTickTicksAndGCs(t *testing.T) {
	reg := NewRegistry[string]()
	hash := identity.HashRoom("app", "room-3")
	r := reg.GetOrCreate(hash)
	r.EnsureMixer("peer-a", nil)

	if destroyed := reg.Tick(time.Now()); destroyed != 0 {
		t.Fatalf("Tick() destroyed=%d while a mixer is live, want 0", destroyed)
	}

	r.OnEndpointLeave("peer-a")
	if destroyed := reg.Tick(time.Now()); destroyed != 1 {
		t.Fatalf("Tick() destroyed=%d after mixer closed, want 1", destroyed)
	}
}

func TestRegistryRange(t *testing.T) {
	reg := NewRegistry[string]()
	reg.GetOrCreate(identity.HashRoom("app", "a"))
	reg.GetOrCreate(identity.HashRoom("app", "b"))

	seen := 0
	reg.Range(func(identity.ClusterRoomHash, *Room[string]) { seen++ })
	if seen != 2 {
		t.Fatalf("Range visited %d rooms, want 2", seen)
	}
}
