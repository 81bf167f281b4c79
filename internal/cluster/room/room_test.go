package room

import (
	"testing"
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
)

func TestRoomDestroyedOnceAllRegistriesEmpty(t *testing.T) {
	r := NewRoom[string](testRoom)
	r.Media().OnTrackPublish("ep1", 1, "peerA", "cam")
	r.MediaSub().OnTrackSubscribe("ep2", 10, "peerA", "cam")
	if r.IsEmpty() {
		t.Fatalf("room should not be empty while it has a publisher and subscriber")
	}

	r.OnEndpointLeave("ep1")
	r.OnEndpointLeave("ep2")
	for {
		if _, ok := r.PopOutput(); !ok {
			break
		}
	}
	if !r.IsEmpty() {
		t.Errorf("room should be empty once every endpoint has left")
	}

	out, ok := r.PopOutput()
	if !ok || !out.OnResourceEmpty {
		t.Fatalf("expected OnResourceEmpty once room is empty, got %+v ok=%v", out, ok)
	}
}

func TestRoomEnsureMixerIsStable(t *testing.T) {
	r := NewRoom[string](testRoom)
	outputs := []identity.LocalTrackId{1, 2, 3}
	m1 := r.EnsureMixer("ep1", outputs)
	m2 := r.EnsureMixer("ep1", outputs)
	if m1 != m2 {
		t.Errorf("EnsureMixer should return the same mixer instance for the same endpoint")
	}
	_ = time.Second
}
