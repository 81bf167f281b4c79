package tsrewrite

import "testing"

type input struct {
	reinit        bool
	nowMs, rtpTs  uint64
	expected      uint64
}

func gen(nowMs, rtpTs, expected uint64) input { return input{nowMs: nowMs, rtpTs: rtpTs, expected: expected} }
func reinit() input                          { return input{reinit: true} }

func run(t *testing.T, limit, deltaReinit int64, dataRate int64, data []input) {
	t.Helper()
	r := New(dataRate, limit, deltaReinit)
	for i, in := range data {
		if in.reinit {
			r.Reinit()
			continue
		}
		got := r.Generate(in.nowMs, in.rtpTs)
		if got != in.expected {
			t.Errorf("row %d: Generate(%d,%d) = %d, want %d", i, in.nowMs, in.rtpTs, got, in.expected)
		}
	}
}

func TestNormalCase(t *testing.T) {
	run(t, 100000, 10, 1000, []input{
		gen(0, 0, 0),
		gen(200, 200, 200),
		gen(1000, 1000, 1000),
		gen(99999, 99999, 99999),
	})
}

func TestReinitCase(t *testing.T) {
	run(t, 100000, 10, 1000, []input{
		gen(0, 0, 0),
		gen(200, 200, 200),
		reinit(),
		gen(1000, 210, 1000),
		gen(1200, 410, 1200),
	})
}

func TestReinitWaitCase(t *testing.T) {
	run(t, 100000, 10, 1000, []input{
		gen(0, 0, 0),
		gen(200, 200, 200),
		reinit(),
		gen(1000, 510, 1000),
		gen(1200, 710, 1200),
	})
}

func TestPreviousCycleCase(t *testing.T) {
	run(t, 100000, 10, 1000, []input{
		gen(99999, 99999, 99999),
		gen(1000, 200, 200),
	})
}

func TestNextCycleCase(t *testing.T) {
	run(t, 100000, 10, 1000, []input{
		gen(99200, 99200, 99200),
		gen(99400, 99400, 99400),
		gen(100, 100, 100),
	})
}
