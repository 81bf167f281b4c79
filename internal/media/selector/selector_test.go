package selector

import (
	"testing"

	"github.com/voicetyped/mediafabric/internal/wire"
)

func videoPkt(seq uint16, ts uint32, key bool) *wire.MediaPacket {
	return &wire.MediaPacket{Seq: seq, Ts: ts, Meta: wire.MediaMeta{Kind: wire.MetaVP8, Key: key}}
}

func TestSelectReinitsOnSourceChange(t *testing.T) {
	s := New(wire.Video)
	pkt := videoPkt(100, 9000, true)
	if ok := s.Select(0, 1, pkt); !ok {
		t.Fatalf("Select on first channel should accept")
	}
	if _, ok := s.PopOutput(0); !ok {
		t.Fatalf("expected a keyframe request queued on first select")
	}

	pkt2 := videoPkt(200, 18000, false)
	if ok := s.Select(100, 2, pkt2); !ok {
		t.Fatalf("Select on new channel should accept")
	}
	if _, ok := s.PopOutput(100); !ok {
		t.Fatalf("expected a keyframe request queued on source change")
	}
}

func TestSelectAudioNoKeyframeRequests(t *testing.T) {
	s := New(wire.Audio)
	pkt := &wire.MediaPacket{Seq: 1, Ts: 100, Meta: wire.MediaMeta{Kind: wire.MetaOpus, AudioLevel: -20}}
	if ok := s.Select(0, 1, pkt); !ok {
		t.Fatalf("Select should accept audio packet")
	}
	if _, ok := s.PopOutput(0); ok {
		t.Errorf("audio track should never queue a keyframe request")
	}
}

func TestSelectMonotoneSeqAcrossSwitch(t *testing.T) {
	s := New(wire.Video)
	pkt := videoPkt(65530, 0, true)
	s.Select(0, 1, pkt)
	first := pkt.Seq

	pkt2 := videoPkt(10, 0, true)
	s.Select(0, 2, pkt2)
	second := pkt2.Seq

	if second < first {
		t.Errorf("seq should not regress across source switch: first=%d second=%d", first, second)
	}
}

func TestKeyframeThrottle(t *testing.T) {
	s := New(wire.Video)
	pkt := videoPkt(1, 0, false)
	s.Select(0, 1, pkt)
	s.PopOutput(0) // drain the source-change request

	s.needKeyFrame = true
	// The source-change request above was sent at t=0, so the throttle
	// holds any further request until t=100.
	s.OnTick(0)
	if len(s.queue) != 0 {
		t.Fatalf("expected no queued request at t=0, got %d", len(s.queue))
	}
	s.OnTick(50)
	if len(s.queue) != 0 {
		t.Errorf("should not queue another request before the 100ms interval elapses")
	}
	s.OnTick(100)
	if len(s.queue) != 1 {
		t.Errorf("should queue another request once 100ms elapsed")
	}
}

func TestVariantForMetaSingleVsSimulcast(t *testing.T) {
	single := variantForMeta(wire.Video, wire.MediaMeta{Kind: wire.MetaVP8})
	if single.Kind != VariantSingle {
		t.Errorf("expected VariantSingle, got %v", single.Kind)
	}
	sim := variantForMeta(wire.Video, wire.MediaMeta{Kind: wire.MetaVP8, Sim: &wire.Simulcast{Layer: 1}})
	if sim.Kind != VariantSimVP8 {
		t.Errorf("expected VariantSimVP8, got %v", sim.Kind)
	}
	svc := variantForMeta(wire.Video, wire.MediaMeta{Kind: wire.MetaVP9, Svc: &wire.SVC{Spatial: 1}})
	if svc.Kind != VariantSVCVP9 {
		t.Errorf("expected VariantSVCVP9, got %v", svc.Kind)
	}
}
