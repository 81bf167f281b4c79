// Package tsrewrite rewrites RTP timestamps across source switches so a local
// track's emitted timestamps stay monotone even when its selected source changes.
package tsrewrite

type state int

const (
	stateFirstInit state = iota
	stateReinit
	stateRewriting
)

// Rewrite implements the TsRewrite<TS_LIMIT,TS_DELTA_REINIT> contract from spec §4.4:
// on first packet it syncs delta from wall clock, on reinit it re-syncs while
// enforcing monotonicity, and in steady state it detects forward/backward wrap
// against the codec's timestamp modulus.
type Rewrite struct {
	limit       int64
	deltaReinit int64
	dataRate    int64

	deltaTs        int64
	lastExtendedTs int64
	lastRtpTs      int64
	state          state
}

// New creates a Rewrite for a media clock running at dataRate Hz, wrapping
// every limit ticks, bumping by deltaReinit on a reinit that would otherwise
// regress.
func New(dataRate int64, limit int64, deltaReinit int64) *Rewrite {
	return &Rewrite{
		dataRate:    dataRate,
		limit:       limit,
		deltaReinit: deltaReinit,
		state:       stateFirstInit,
	}
}

// Reinit marks the stream as disconnected; the next Generate call re-syncs
// against the current source instead of extrapolating from the prior one.
func (r *Rewrite) Reinit() {
	r.deltaTs = 0
	r.state = stateReinit
}

// Generate rewrites rtpTs, observed at wall-clock nowMs, into the extended,
// monotone output timestamp and returns it modulo the limit.
func (r *Rewrite) Generate(nowMs uint64, rtpTs uint64) uint64 {
	rtp := int64(rtpTs)
	switch r.state {
	case stateFirstInit:
		nowTs := int64(nowMs) * (r.dataRate / 1000)
		r.lastRtpTs = rtp
		r.deltaTs = nowTs - rtp
		r.state = stateRewriting

	case stateReinit:
		nowTs := int64(nowMs) * (r.dataRate / 1000)
		if nowTs < r.lastExtendedTs {
			nowTs = r.lastExtendedTs + r.deltaReinit
		}
		r.lastRtpTs = rtp
		r.deltaTs = nowTs - rtp
		r.state = stateRewriting

	case stateRewriting:
		if r.lastRtpTs+r.limit/2 < rtp {
			// previous cycle: report without advancing state.
			return uint64(mod(r.deltaTs+rtp, r.limit))
		}
		if rtp+r.limit/2 < r.lastRtpTs {
			// next cycle.
			r.deltaTs += r.limit
		}
		r.lastRtpTs = rtp
	}

	r.lastExtendedTs = r.deltaTs + rtp
	return uint64(mod(r.lastExtendedTs, r.limit))
}

func mod(v, m int64) int64 {
	v %= m
	if v < 0 {
		v += m
	}
	return v
}
