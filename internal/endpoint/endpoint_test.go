package endpoint

import (
	"testing"
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/transport"
	"github.com/voicetyped/mediafabric/internal/transport/stub"
	"github.com/voicetyped/mediafabric/internal/wire"
)

func newTestEndpoint(t *testing.T) (*Endpoint, *stub.Transport) {
	t.Helper()
	tr := stub.New(stub.ProtocolWHIP, "https://example.invalid/whip/s1")
	conn := identity.ClusterConnId{NodeID: 1, NodeSession: 1, Worker: 0, Index: 0}
	ep := New(conn, identity.PeerId("peer-1"), tr, 2_000_000, 2_000_000)
	return ep, tr
}

func TestJoinTransitionsToJoiningThenJoined(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	hash := identity.HashRoom("app", "room-1")

	ep.Join(hash)
	if ep.State() != StateJoining {
		t.Fatalf("State() = %v, want Joining", ep.State())
	}
	out, ok := ep.PopClusterOut()
	if !ok || out.Kind != ClusterOutJoin {
		t.Fatalf("PopClusterOut() = %+v, %v, want ClusterOutJoin", out, ok)
	}

	ep.MarkJoined()
	if ep.State() != StateJoined {
		t.Fatalf("State() = %v, want Joined", ep.State())
	}
	if got, ok := ep.RoomHash(); !ok || got != hash {
		t.Fatalf("RoomHash() = %v, %v, want %v, true", got, ok, hash)
	}
}

func TestRemoteTrackStartedEmitsClusterOut(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.Join(identity.HashRoom("app", "room-1"))
	ep.MarkJoined()
	ep.PopClusterOut() // drain the Join command

	err := ep.OnTransportEvent(time.Now(), transport.Event{
		Kind:          transport.EventRemoteTrackStarted,
		RemoteTrackID: 1,
		RemoteTrackMeta: transport.RemoteTrackMeta{
			Name: "cam", Kind: wire.Video,
		},
	})
	if err != nil {
		t.Fatalf("OnTransportEvent() = %v", err)
	}
	out, ok := ep.PopClusterOut()
	if !ok || out.Kind != ClusterOutRemoteTrackStarted {
		t.Fatalf("PopClusterOut() = %+v, %v, want ClusterOutRemoteTrackStarted", out, ok)
	}
	if out.RemoteTrack != 1 {
		t.Fatalf("RemoteTrack = %d, want 1", out.RemoteTrack)
	}
}

func TestSwitchRequiresJoinedState(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	local := ep.AttachLocalTrack(wire.Video, 1)

	if err := ep.Switch(local, "peer-2", "cam", true); err == nil {
		t.Fatalf("Switch() before joining a room should fail")
	}

	ep.Join(identity.HashRoom("app", "room-1"))
	if err := ep.Switch(local, "peer-2", "cam", true); err != nil {
		t.Fatalf("Switch() while Joining = %v, want nil", err)
	}
	out, ok := ep.PopClusterOut()
	_ = out
	if !ok {
		t.Fatalf("expected a Join ClusterOut before the Subscribe one")
	}
	out, ok = ep.PopClusterOut()
	if !ok || out.Kind != ClusterOutSubscribe {
		t.Fatalf("PopClusterOut() = %+v, %v, want ClusterOutSubscribe", out, ok)
	}
}

func TestSwitchUnknownLocalTrack(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	if err := ep.Switch(99, "peer-2", "cam", true); err == nil {
		t.Fatalf("Switch() with an unregistered local track id should fail")
	}
}

func TestCloseIsIdempotentAndEmpties(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	if err := ep.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if ep.State() != StateClosed {
		t.Fatalf("State() = %v, want Closed", ep.State())
	}
	ep.PopClusterOut() // drain the Leave command
	if !ep.IsEmpty() {
		t.Fatalf("IsEmpty() = false after draining a closed endpoint's queue")
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}

func TestOnTickDrivesLocalTrackSelector(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.Join(identity.HashRoom("app", "room-1"))
	ep.MarkJoined()
	ep.PopClusterOut()

	local := ep.AttachLocalTrack(wire.Video, 1)
	if err := ep.Switch(local, "peer-2", "cam", true); err != nil {
		t.Fatalf("Switch() = %v", err)
	}
	ep.PopClusterOut() // drain the Subscribe command

	// OnTick must not panic with no remote media flowing yet.
	ep.OnTick(time.Now())
}
