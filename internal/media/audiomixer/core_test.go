package audiomixer

import (
	"testing"
	"time"
)

func TestFourSourcesThreeSlots(t *testing.T) {
	m := New[string](3, 3*time.Second)
	now := time.Now()

	// E1..E4 publish Opus with levels -10,-20,-30,-15 dBov.
	slotE1, just1, ok1 := m.OnPkt(now, "E1", -10)
	slotE2, just2, ok2 := m.OnPkt(now, "E2", -20)
	slotE3, _, ok3 := m.OnPkt(now, "E3", -30)
	slotE4, just4, ok4 := m.OnPkt(now, "E4", -15)

	if !ok1 || !just1 || slotE1 != 0 {
		t.Fatalf("E1 should take slot 0, got slot=%d just=%v ok=%v", slotE1, just1, ok1)
	}
	if !ok2 || !just2 || slotE2 != 1 {
		t.Fatalf("E2 should take slot 1, got slot=%d just=%v ok=%v", slotE2, just2, ok2)
	}
	// E3 (-30 dBov) first takes the still-free slot 2; E4 (-15 dBov) then
	// beats it by more than the hysteresis and displaces it from that slot.
	if !ok3 || slotE3 != 2 {
		t.Fatalf("E3 should take free slot 2 first, got slot=%d ok=%v", slotE3, ok3)
	}
	if !ok4 || !just4 || slotE4 != 2 {
		t.Fatalf("E4 should take slot 2, got slot=%d just=%v ok=%v", slotE4, just4, ok4)
	}
	if _, _, ok := m.OnPkt(now, "E3", -30); ok {
		t.Fatalf("E3 (-30 dBov, quietest) should not be routed with slots full of louder sources")
	}

	if got := m.ActiveCount(); got != 3 {
		t.Errorf("ActiveCount = %d, want 3", got)
	}
}

func TestSilentSlotPromotesWaitingSource(t *testing.T) {
	m := New[string](3, 3*time.Second)
	now := time.Now()
	m.OnPkt(now, "E1", -10)
	m.OnPkt(now, "E2", -20)
	m.OnPkt(now, "E4", -15)

	// E1 stops while E2 and E4 keep talking: after the silence timeout only
	// E1's slot is evicted on tick.
	m.OnPkt(now.Add(2*time.Second), "E2", -20)
	m.OnPkt(now.Add(2*time.Second), "E4", -15)
	evicted := m.OnTick(now.Add(3 * time.Second))
	if len(evicted) != 1 || evicted[0] != 0 {
		t.Fatalf("expected slot 0 evicted after silence timeout, got %v", evicted)
	}

	// E3 (-30) is now promoted into the freed slot.
	slot, justSet, ok := m.OnPkt(now.Add(3*time.Second), "E3", -30)
	if !ok || !justSet || slot != 0 {
		t.Fatalf("E3 should be promoted into freed slot 0, got slot=%d justSet=%v ok=%v", slot, justSet, ok)
	}
}

func TestSameKeyUpdatesWithoutReassignment(t *testing.T) {
	m := New[string](2, time.Second)
	now := time.Now()
	s1, just1, _ := m.OnPkt(now, "A", -10)
	s2, just2, _ := m.OnPkt(now.Add(10*time.Millisecond), "A", -12)
	if s1 != s2 {
		t.Errorf("same key should stay in the same slot: %d != %d", s1, s2)
	}
	if !just1 || just2 {
		t.Errorf("only the first observation of a key should report justSet=true")
	}
}
