package room

import (
	"testing"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/wire"
)

const testRoom = identity.ClusterRoomHash(42)

func TestChannelPublisherLifecycle(t *testing.T) {
	p := NewChannelPublisher[string](testRoom)

	channel := p.OnTrackPublish("ep1", 1, "peerA", "cam")
	out, ok := p.PopOutput()
	if !ok || out.Kind != PublisherPubStart || out.Channel != channel {
		t.Fatalf("expected PubStart, got %+v ok=%v", out, ok)
	}

	p.OnTrackData("ep1", 1, wire.MediaPacket{Seq: 1, Ts: 1, Meta: wire.MediaMeta{Kind: wire.MetaVP8, Key: true}, Data: []byte{1}})
	out, ok = p.PopOutput()
	if !ok || out.Kind != PublisherPubData {
		t.Fatalf("expected PubData, got %+v ok=%v", out, ok)
	}

	p.OnTrackUnpublish("ep1", 1)
	out, ok = p.PopOutput()
	if !ok || out.Kind != PublisherPubStop {
		t.Fatalf("expected PubStop, got %+v ok=%v", out, ok)
	}
	if !p.IsEmpty() {
		t.Errorf("expected publisher empty after unpublish")
	}
}

func TestChannelPublisherDropsDataForUnknownTrack(t *testing.T) {
	p := NewChannelPublisher[string](testRoom)
	p.OnTrackData("ghost", 9, wire.MediaPacket{})
	if _, ok := p.PopOutput(); ok {
		t.Errorf("expected no output for unknown (owner, track)")
	}
}

func TestChannelPublisherKeyFrameFeedback(t *testing.T) {
	p := NewChannelPublisher[string](testRoom)
	channel := p.OnTrackPublish("ep1", 1, "peerA", "cam")
	p.PopOutput() // drain PubStart

	p.OnChannelFeedback(channel, FeedbackKeyFrameRequest)
	out, ok := p.PopOutput()
	if !ok || out.Kind != PublisherRequestKeyFrame || out.Owner != "ep1" || out.Track != 1 {
		t.Fatalf("expected RequestKeyFrame routed to owner, got %+v ok=%v", out, ok)
	}

	p.OnChannelFeedback(channel, FeedbackBitrate)
	if _, ok := p.PopOutput(); ok {
		t.Errorf("Bitrate feedback is reserved and must not emit anything")
	}
}

func TestChannelPublisherEndpointLeaveCascade(t *testing.T) {
	p := NewChannelPublisher[string](testRoom)
	p.OnTrackPublish("ep1", 1, "peerA", "cam")
	p.OnTrackPublish("ep1", 2, "peerA", "mic")
	p.PopOutput()
	p.PopOutput()

	p.OnEndpointLeave("ep1")
	var stops int
	for {
		out, ok := p.PopOutput()
		if !ok {
			break
		}
		if out.Kind == PublisherPubStop {
			stops++
		}
	}
	if stops != 2 {
		t.Errorf("expected 2 PubStop on endpoint leave, got %d", stops)
	}
	if !p.IsEmpty() {
		t.Errorf("expected publisher empty after endpoint leave")
	}
}
