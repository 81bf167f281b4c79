package room

import (
	"testing"

	"github.com/voicetyped/mediafabric/internal/wire"
)

func TestChannelSubscriberSubAutoOnFirstJoin(t *testing.T) {
	s := NewChannelSubscriber[string](testRoom)

	channel := s.OnTrackSubscribe("ep1", 10, "peerA", "cam")
	out, ok := s.PopOutput()
	if !ok || out.Kind != SubscriberSubAuto || out.Channel != channel {
		t.Fatalf("expected SubAuto, got %+v ok=%v", out, ok)
	}

	s.OnTrackSubscribe("ep2", 20, "peerA", "cam")
	if _, ok := s.PopOutput(); ok {
		t.Errorf("second subscriber should not re-emit SubAuto")
	}
}

func TestChannelSubscriberUnsubOnLastLeave(t *testing.T) {
	s := NewChannelSubscriber[string](testRoom)
	channel := s.OnTrackSubscribe("ep1", 10, "peerA", "cam")
	s.PopOutput()

	s.OnTrackUnsubscribe("ep1", 10)
	out, ok := s.PopOutput()
	if !ok || out.Kind != SubscriberUnsubAuto || out.Channel != channel {
		t.Fatalf("expected UnsubAuto on last leave, got %+v ok=%v", out, ok)
	}
}

func TestChannelSubscriberFanOut(t *testing.T) {
	s := NewChannelSubscriber[string](testRoom)
	channel := s.OnTrackSubscribe("ep1", 10, "peerA", "cam")
	s.OnTrackSubscribe("ep2", 20, "peerA", "cam")
	s.PopOutput()

	pkt := wire.MediaPacket{Seq: 5, Ts: 500, Meta: wire.MediaMeta{Kind: wire.MetaVP8}, Data: []byte{1, 2}}
	if err := s.OnChannelData(channel, wire.Encode(pkt)); err != nil {
		t.Fatalf("OnChannelData: %v", err)
	}

	var recipients []string
	for {
		out, ok := s.PopOutput()
		if !ok {
			break
		}
		if out.Kind == SubscriberMedia {
			recipients = append(recipients, out.Endpoint)
		}
	}
	if len(recipients) != 2 {
		t.Fatalf("expected fan-out to both subscribers, got %v", recipients)
	}
}

func TestChannelSubscriberRelayChangedNotifiesAll(t *testing.T) {
	s := NewChannelSubscriber[string](testRoom)
	channel := s.OnTrackSubscribe("ep1", 10, "peerA", "cam")
	s.PopOutput()

	s.OnChannelRelayChanged(channel)
	out, ok := s.PopOutput()
	if !ok || out.Kind != SubscriberSourceChanged || out.Endpoint != "ep1" {
		t.Fatalf("expected SourceChanged, got %+v ok=%v", out, ok)
	}
}

func TestChannelSubscriberRequestKey(t *testing.T) {
	s := NewChannelSubscriber[string](testRoom)
	s.OnTrackSubscribe("ep1", 10, "peerA", "cam")
	s.PopOutput()

	s.OnTrackRequestKey("ep1", 10)
	out, ok := s.PopOutput()
	if !ok || out.Kind != SubscriberFeedbackAuto {
		t.Fatalf("expected FeedbackAuto, got %+v ok=%v", out, ok)
	}
}

func TestChannelSubscriberEndpointLeaveCascade(t *testing.T) {
	s := NewChannelSubscriber[string](testRoom)
	s.OnTrackSubscribe("ep1", 10, "peerA", "cam")
	s.OnTrackSubscribe("ep1", 11, "peerB", "mic")
	s.PopOutput()
	s.PopOutput()

	s.OnEndpointLeave("ep1")
	var unsubs int
	for {
		out, ok := s.PopOutput()
		if !ok {
			break
		}
		if out.Kind == SubscriberUnsubAuto {
			unsubs++
		}
	}
	if unsubs != 2 {
		t.Errorf("expected 2 UnsubAuto on endpoint leave, got %d", unsubs)
	}
	if !s.IsEmpty() {
		t.Errorf("expected subscriber empty after endpoint leave")
	}
}
