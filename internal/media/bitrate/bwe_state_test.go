package bitrate

import (
	"testing"
	"time"
)

func TestInactiveState(t *testing.T) {
	s := NewBweState()
	if s.IsActive() {
		t.Fatalf("new state should be Inactive")
	}
	if bps, reset := s.OnTick(time.Now()); reset || bps != 0 {
		t.Errorf("OnTick on Inactive should be a no-op, got bps=%d reset=%v", bps, reset)
	}
	if got := s.FilterBwe(100); got != 0 {
		t.Errorf("FilterBwe on Inactive = %d, want 0", got)
	}
	c, d := s.FilterBweConfig(100, 200)
	if c != 0 || d != 0 {
		t.Errorf("FilterBweConfig on Inactive = (%d,%d), want (0,0)", c, d)
	}
}

func TestInactiveSwitchesToWarmUp(t *testing.T) {
	s := NewBweState()
	now := time.Now()
	s.OnSendVideo(now)
	if !s.IsActive() {
		t.Fatalf("expected WarmUp after OnSendVideo")
	}
	if got := s.FilterBwe(100); got != WarmUpBweBps {
		t.Errorf("FilterBwe during WarmUp = %d, want %d", got, WarmUpBweBps)
	}
	c, d := s.FilterBweConfig(100, 200)
	if c != WarmUpBweBps || d != WarmUpDesiredBps {
		t.Errorf("FilterBweConfig during WarmUp = (%d,%d), want (%d,%d)", c, d, WarmUpBweBps, WarmUpDesiredBps)
	}
	if got := s.FilterBwe(WarmUpBweBps + 100); got != WarmUpBweBps+100 {
		t.Errorf("FilterBwe above floor should pass through, got %d", got)
	}
}

func TestWarmUpAutoSwitchesActive(t *testing.T) {
	s := NewBweState()
	now := time.Now()
	s.OnSendVideo(now)

	bps, reset := s.OnTick(now)
	if !reset || bps != WarmUpBweBps {
		t.Fatalf("first tick should force WARM_UP_BWE_BPS reset, got bps=%d reset=%v", bps, reset)
	}

	s.OnSendVideo(now.Add(time.Duration(WarmUpMs-100) * time.Millisecond))
	_, reset = s.OnTick(now.Add(time.Duration(WarmUpMs) * time.Millisecond))
	if reset {
		t.Errorf("transition to Active should not force a reset")
	}
	if got := s.FilterBwe(100); got != 100 {
		t.Errorf("FilterBwe in Active should pass through unmodified, got %d", got)
	}
}

func TestWarmUpTimesOutToInactive(t *testing.T) {
	s := NewBweState()
	now := time.Now()
	s.OnSendVideo(now)
	s.OnTick(now)

	bps, reset := s.OnTick(now.Add(time.Duration(TimeoutMs) * time.Millisecond))
	if !reset || bps != 0 {
		t.Fatalf("timeout should reset to Inactive with bps=0, got bps=%d reset=%v", bps, reset)
	}
	if s.IsActive() {
		t.Errorf("expected Inactive after timeout")
	}
}

func TestActiveTimesOutToInactive(t *testing.T) {
	s := NewBweState()
	now := time.Now()
	s.OnSendVideo(now)
	s.OnTick(now)
	s.OnSendVideo(now.Add(time.Duration(WarmUpMs-100) * time.Millisecond))
	s.OnTick(now.Add(time.Duration(WarmUpMs) * time.Millisecond))

	bps, reset := s.OnTick(now.Add(time.Duration(WarmUpMs+TimeoutMs) * time.Millisecond))
	if !reset || bps != 0 {
		t.Errorf("Active timeout should reset to Inactive with bps=0, got bps=%d reset=%v", bps, reset)
	}
	if s.IsActive() {
		t.Errorf("expected Inactive after Active timeout")
	}
}
