// Package seqrewrite rewrites RTP sequence numbers across source switches,
// extending the 16-bit wire sequence into a monotone 64-bit space and rejecting
// packets that arrive too late relative to the highest sequence already emitted.
package seqrewrite

// Rewrite implements the SeqRewrite<MAX,WINDOW> contract from spec §4.4.
type Rewrite struct {
	maxVal uint64
	window uint64

	hasLast bool
	lastSeq uint16
	delta   int64

	hasMax    bool
	maxOutput uint64

	justReinit bool
	dropped    map[uint64]struct{}
}

// New creates a Rewrite wrapping at maxVal (e.g. 1<<16) and rejecting values
// more than window behind the highest value generated so far.
func New(maxVal uint64, window uint64) *Rewrite {
	return &Rewrite{
		maxVal:  maxVal,
		window:  window,
		dropped: make(map[uint64]struct{}),
	}
}

// Generate extends and rewrites seq. ok is false when seq was already marked
// dropped, or falls more than window behind the current max output.
func (r *Rewrite) Generate(seq uint16) (out uint64, ok bool) {
	extended, valid := r.extend(seq)
	if !valid {
		return 0, false
	}
	if _, isDropped := r.dropped[extended]; isDropped {
		return 0, false
	}
	if r.hasMax && extended+r.window < r.maxOutput {
		return 0, false
	}
	if !r.hasMax || extended > r.maxOutput {
		r.maxOutput = extended
		r.hasMax = true
	}
	return extended, true
}

// Reinit marks the stream as disconnected; the next Generate call resyncs its
// delta so the new source's sequence space continues monotonically right
// after the highest value already emitted (spec §4.4 "reinit both rewriters").
func (r *Rewrite) Reinit() {
	r.hasLast = false
	r.justReinit = true
}

// DropValue marks seq as dropped; a later arrival of the same raw sequence
// (same extended value) will return ok=false from Generate.
func (r *Rewrite) DropValue(seq uint16) {
	if extended, valid := r.extend(seq); valid {
		r.dropped[extended] = struct{}{}
	}
}

// IsSeqLowerThan reports whether a precedes b in 16-bit circular sequence space.
func IsSeqLowerThan(a, b uint16) bool {
	return int16(a-b) < 0
}

// extend advances the internal delta/lastSeq state and returns the raw
// monotone-extended sequence value for seq. valid is false only for the
// previous-cycle edge case where the extension would underflow past zero.
func (r *Rewrite) extend(seq uint16) (uint64, bool) {
	half := r.maxVal / 2
	v := int64(seq)
	if !r.hasLast {
		r.lastSeq = seq
		r.hasLast = true
		if r.justReinit && r.hasMax {
			r.delta = int64(r.maxOutput) + 1 - v
		} else if !r.justReinit {
			r.delta = 0
		}
		r.justReinit = false
		return uint64(v + r.delta), true
	}

	if v > int64(r.lastSeq) && v-int64(r.lastSeq) > int64(half) {
		// Looks like it belongs to the previous cycle relative to lastSeq.
		out := v + r.delta - int64(r.maxVal)
		if out < 0 {
			return 0, false
		}
		return uint64(out), true
	}

	if v < int64(r.lastSeq) && int64(r.lastSeq)-v > int64(half) {
		r.delta += int64(r.maxVal)
	}
	r.lastSeq = seq
	return uint64(v + r.delta), true
}
