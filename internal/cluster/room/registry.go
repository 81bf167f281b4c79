package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
)

// Registry is the Room Registry (spec §2, §4.2): it lazily creates a Room
// keyed by ClusterRoomHash on first endpoint join and garbage-collects it
// once every sub-registry and mixer reports empty. Grounded on the
// teacher's sfu.Room map-of-rooms ownership in cmd/media/main.go's SFU
// instance, generalized from a single flat `map[string]*Room` to the
// hash-keyed, generic-endpoint shape spec §3 describes.
type Registry[Endpoint comparable] struct {
	mu    sync.Mutex
	rooms map[identity.ClusterRoomHash]*Room[Endpoint]
}

// NewRegistry creates an empty room registry.
func NewRegistry[Endpoint comparable]() *Registry[Endpoint] {
	return &Registry[Endpoint]{rooms: make(map[identity.ClusterRoomHash]*Room[Endpoint])}
}

// GetOrCreate returns the room for hash, creating it if this is the first
// endpoint to join it (spec §3 Room lifecycle: "Lazily created on first
// endpoint join").
func (r *Registry[Endpoint]) GetOrCreate(hash identity.ClusterRoomHash) *Room[Endpoint] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[hash]; ok {
		return room
	}
	room := NewRoom[Endpoint](hash)
	r.rooms[hash] = room
	slog.Debug("room registry: created room", slog.Uint64("hash", uint64(hash)))
	return room
}

// Get returns the room for hash without creating it.
func (r *Registry[Endpoint]) Get(hash identity.ClusterRoomHash) (*Room[Endpoint], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[hash]
	return room, ok
}

// Count reports the number of live rooms, used to enforce
// config.WorkerConfig.MaxRoomsPerNode.
func (r *Registry[Endpoint]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// GC destroys every room that reports IsEmpty, matching spec §3's Room
// lifecycle ("destroyed when all four registries report empty") and §8
// invariant 6. Intended to run once per worker tick alongside each room's
// own OnTick.
func (r *Registry[Endpoint]) GC() (destroyed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, room := range r.rooms {
		if room.IsEmpty() {
			delete(r.rooms, hash)
			destroyed++
			slog.Debug("room registry: destroyed empty room", slog.Uint64("hash", uint64(hash)))
		}
	}
	return destroyed
}

// Tick advances every live room's per-endpoint mixers, then GCs rooms left
// empty by the tick (spec §3 Room lifecycle, §8 invariant 6).
func (r *Registry[Endpoint]) Tick(now time.Time) (destroyed int) {
	r.mu.Lock()
	rooms := make([]*Room[Endpoint], 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.OnTick(now)
	}
	return r.GC()
}

// Range calls fn for every live room. fn must not call back into the
// registry (GetOrCreate/GC) — it is not reentrant.
func (r *Registry[Endpoint]) Range(fn func(hash identity.ClusterRoomHash, room *Room[Endpoint])) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, room := range r.rooms {
		fn(hash, room)
	}
}
