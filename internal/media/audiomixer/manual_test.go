package audiomixer

import (
	"testing"
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/wire"
)

func TestManualAttachEmitsSubAuto(t *testing.T) {
	m := NewManual(identity.ClusterRoomHash(1), []identity.LocalTrackId{0, 1, 2}, time.Second)
	src := Source{Peer: "peer-1", Name: "mic"}

	m.Attach(src)
	out, ok := m.PopOutput()
	if !ok || out.Kind != ManualOutputSubAuto {
		t.Fatalf("PopOutput() = %+v, %v, want ManualOutputSubAuto", out, ok)
	}

	// Attaching the same source twice must not duplicate the subscription.
	m.Attach(src)
	if _, ok := m.PopOutput(); ok {
		t.Fatalf("re-Attach of an already-attached source should not emit another SubAuto")
	}
}

func TestManualOnSourcePktAssignsSlotAndEmitsMedia(t *testing.T) {
	m := NewManual(identity.ClusterRoomHash(1), []identity.LocalTrackId{10, 11, 12}, time.Second)
	src := Source{Peer: "peer-1", Name: "mic"}
	m.Attach(src)
	m.PopOutput() // drain SubAuto

	channel := identity.GenChannelId(identity.ClusterRoomHash(1), src.Peer, src.Name)
	pkt := wire.MediaPacket{Meta: wire.MediaMeta{Kind: wire.MetaOpus, AudioLevel: -10}}

	m.OnSourcePkt(time.Now(), channel, pkt)

	var sawSourceChanged, sawSlotSet, sawMedia bool
	for {
		out, ok := m.PopOutput()
		if !ok {
			break
		}
		switch out.Kind {
		case ManualOutputSourceChanged:
			sawSourceChanged = true
		case ManualOutputSlotSet:
			sawSlotSet = true
			if out.Source != src {
				t.Errorf("SlotSet.Source = %+v, want %+v", out.Source, src)
			}
		case ManualOutputMedia:
			sawMedia = true
		}
	}
	if !sawSourceChanged || !sawSlotSet || !sawMedia {
		t.Fatalf("missing expected outputs: sourceChanged=%v slotSet=%v media=%v", sawSourceChanged, sawSlotSet, sawMedia)
	}
}

func TestManualDetachUnknownSourceIsNoop(t *testing.T) {
	m := NewManual(identity.ClusterRoomHash(1), []identity.LocalTrackId{0}, time.Second)
	m.Detach(Source{Peer: "peer-1", Name: "mic"})
	if _, ok := m.PopOutput(); ok {
		t.Fatalf("Detach of an unknown source should not emit output")
	}
}

func TestManualCloseUnsubscribesEverySource(t *testing.T) {
	m := NewManual(identity.ClusterRoomHash(1), []identity.LocalTrackId{0, 1}, time.Second)
	m.Attach(Source{Peer: "peer-1", Name: "mic"})
	m.PopOutput()
	m.Attach(Source{Peer: "peer-2", Name: "mic"})
	m.PopOutput()

	m.Close()
	count := 0
	for {
		out, ok := m.PopOutput()
		if !ok {
			break
		}
		if out.Kind != ManualOutputUnsubAuto {
			t.Errorf("Close() queued %v, want only ManualOutputUnsubAuto", out.Kind)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("Close() emitted %d UnsubAuto events, want 2", count)
	}
	if !m.IsEmpty() {
		t.Fatalf("IsEmpty() = false after Close() and draining the queue")
	}
}
