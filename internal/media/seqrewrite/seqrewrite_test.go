package seqrewrite

import "testing"

func TestForwardWrap(t *testing.T) {
	r := New(1<<16, 1000)
	first, ok := r.Generate(65535)
	if !ok || first != 65535 {
		t.Fatalf("Generate(65535) = %d,%v want 65535,true", first, ok)
	}
	second, ok := r.Generate(0)
	if !ok || second != 65536 {
		t.Fatalf("Generate(0) after wrap = %d,%v want 65536,true", second, ok)
	}
}

func TestRejectsStaleBeyondWindow(t *testing.T) {
	r := New(1<<16, 1000)
	for seq := uint16(0); seq < 2000; seq++ {
		if _, ok := r.Generate(seq); !ok {
			t.Fatalf("Generate(%d) unexpectedly rejected while advancing", seq)
		}
	}
	// 1999 is now max; 500 is 1499 behind it, outside the 1000 window.
	if _, ok := r.Generate(500); ok {
		t.Errorf("Generate(500) should be rejected as stale")
	}
}

func TestAcceptsWithinWindow(t *testing.T) {
	r := New(1<<16, 1000)
	for seq := uint16(0); seq < 2000; seq++ {
		r.Generate(seq)
	}
	if _, ok := r.Generate(1500); !ok {
		t.Errorf("Generate(1500) should be accepted, within window of max 1999")
	}
}

func TestDropValue(t *testing.T) {
	r := New(1<<16, 1000)
	r.Generate(10)
	r.DropValue(11)
	if _, ok := r.Generate(11); ok {
		t.Errorf("Generate(11) after DropValue(11) should return ok=false")
	}
}

func TestIsSeqLowerThan(t *testing.T) {
	if !IsSeqLowerThan(10, 20) {
		t.Errorf("10 should be lower than 20")
	}
	if IsSeqLowerThan(20, 10) {
		t.Errorf("20 should not be lower than 10")
	}
	if !IsSeqLowerThan(65535, 0) {
		t.Errorf("65535 should be lower than 0 (circular wrap)")
	}
}
