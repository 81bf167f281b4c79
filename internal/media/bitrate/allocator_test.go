package bitrate

import (
	"testing"

	"github.com/voicetyped/mediafabric/internal/identity"
)

const maxBw uint64 = 2_500_000

func TestEgressNoSource(t *testing.T) {
	a := NewEgressAllocator(maxBw)
	a.SetEstimate(200_000)
	a.OnTick()

	out, ok := a.PopOutput()
	if !ok || !out.IsBweConfig || out.BweCurrent != NoTrackBweCurrent || out.BweDesired != NoTrackBweDesired {
		t.Fatalf("expected no-track BweConfig, got %+v ok=%v", out, ok)
	}
	if _, ok := a.PopOutput(); ok {
		t.Errorf("expected no further output")
	}
}

func TestEgressSingleSource(t *testing.T) {
	a := NewEgressAllocator(maxBw)
	a.SetVideoTrack(0, 1)
	a.OnTick()

	track, ok := a.PopOutput()
	if !ok || track.Action.SetBps != DefaultBitrateBps {
		t.Fatalf("expected track bitrate %d, got %+v", DefaultBitrateBps, track)
	}
	cfg, ok := a.PopOutput()
	if !ok || cfg.BweCurrent != DefaultBitrateBps || cfg.BweDesired != DefaultBitrateBps*6/5 {
		t.Fatalf("expected bwe config (%d,%d), got %+v", DefaultBitrateBps, DefaultBitrateBps*6/5, cfg)
	}

	a.SetEstimate(maxBw + 200_000)
	a.OnTick()
	track, ok = a.PopOutput()
	if !ok || track.Action.SetBps != maxBw {
		t.Fatalf("expected capped track bitrate %d, got %+v", maxBw, track)
	}
	cfg, ok = a.PopOutput()
	if !ok || cfg.BweCurrent != maxBw || cfg.BweDesired != maxBw {
		t.Fatalf("expected capped bwe config (%d,%d), got %+v", maxBw, maxBw, cfg)
	}
}

func TestEgressMultiSource(t *testing.T) {
	a := NewEgressAllocator(maxBw)
	a.SetVideoTrack(0, 1)
	a.SetVideoTrack(1, 3)
	a.OnTick()

	t0, _ := a.PopOutput()
	t1, _ := a.PopOutput()
	if t0.Action.SetBps != DefaultBitrateBps/4 {
		t.Errorf("track 0 bitrate = %d, want %d", t0.Action.SetBps, DefaultBitrateBps/4)
	}
	if t1.Action.SetBps != DefaultBitrateBps*3/4 {
		t.Errorf("track 1 bitrate = %d, want %d", t1.Action.SetBps, DefaultBitrateBps*3/4)
	}
}

func TestIngressSingleSource(t *testing.T) {
	const testBitrate uint64 = 2_000_000
	a := NewIngressAllocator(testBitrate)
	a.SetVideoTrack(0, 1)
	a.OnTick()

	out, ok := a.PopOutput()
	if !ok || out.Track != identity.RemoteTrackId(0) || out.SetBps != testBitrate {
		t.Fatalf("expected (0,%d), got %+v ok=%v", testBitrate, out, ok)
	}
}

func TestIngressMultiSource(t *testing.T) {
	const testBitrate uint64 = 2_000_000
	a := NewIngressAllocator(testBitrate)
	a.SetVideoTrack(0, 1)
	a.SetVideoTrack(1, 3)
	a.OnTick()

	t0, _ := a.PopOutput()
	t1, _ := a.PopOutput()
	if t0.SetBps != testBitrate/4 {
		t.Errorf("track 0 bitrate = %d, want %d", t0.SetBps, testBitrate/4)
	}
	if t1.SetBps != testBitrate*3/4 {
		t.Errorf("track 1 bitrate = %d, want %d", t1.SetBps, testBitrate*3/4)
	}
}
