// Package bitrate implements the egress/ingress bitrate allocators and the
// BWE warm-up state machine from spec §4.1. Grounded on
// transport_webrtc/.../bwe_state.rs and endpoint/internal/bitrate_allocator/*.
package bitrate

import "time"

// Warm-up constants ported verbatim from bwe_state.rs.
const (
	WarmUpBweBps     uint64 = 800_000
	WarmUpDesiredBps uint64 = 1_000_000
	WarmUpMs         int64  = 5000
	TimeoutMs        int64  = 2000
)

type bweStateKind int

const (
	bweInactive bweStateKind = iota
	bweWarmUp
	bweActive
)

// BweState implements the Inactive/WarmUp/Active state machine from spec §4.1.
type BweState struct {
	kind        bweStateKind
	startedAt   time.Time
	lastVideoAt time.Time
	resetBwe    bool
}

// NewBweState returns a BweState starting Inactive.
func NewBweState() *BweState { return &BweState{kind: bweInactive} }

// OnTick advances the state machine. When reset is true, the returned bitrate
// is the BWE value that must be force-applied this tick.
func (s *BweState) OnTick(now time.Time) (bps uint64, reset bool) {
	switch s.kind {
	case bweInactive:
		return 0, false

	case bweWarmUp:
		if s.resetBwe {
			s.resetBwe = false
			return WarmUpBweBps, true
		}
		if now.Sub(s.lastVideoAt).Milliseconds() >= TimeoutMs {
			s.kind = bweInactive
			return 0, true
		}
		if now.Sub(s.startedAt).Milliseconds() >= WarmUpMs {
			s.kind = bweActive
			return 0, false
		}
		return 0, false

	case bweActive:
		if now.Sub(s.lastVideoAt).Milliseconds() >= TimeoutMs {
			s.kind = bweInactive
			return 0, true
		}
		return 0, false
	}
	return 0, false
}

// OnSendVideo records an outgoing video packet, moving Inactive->WarmUp or
// refreshing the WarmUp/Active liveness clock.
func (s *BweState) OnSendVideo(now time.Time) {
	switch s.kind {
	case bweInactive:
		s.kind = bweWarmUp
		s.startedAt = now
		s.lastVideoAt = now
		s.resetBwe = true
	default:
		s.lastVideoAt = now
	}
}

// FilterBwe clamps a raw estimate according to the current state.
func (s *BweState) FilterBwe(bwe uint64) uint64 {
	switch s.kind {
	case bweInactive:
		return 0
	case bweWarmUp:
		if bwe < WarmUpBweBps {
			return WarmUpBweBps
		}
		return bwe
	default:
		return bwe
	}
}

// FilterBweConfig clamps an (current, desired) egress config per state.
func (s *BweState) FilterBweConfig(current, desired uint64) (uint64, uint64) {
	switch s.kind {
	case bweInactive:
		return 0, 0
	case bweWarmUp:
		newCurrent, newDesired := current, desired
		if newCurrent < WarmUpBweBps {
			newCurrent = WarmUpBweBps
		}
		if newDesired < WarmUpDesiredBps {
			newDesired = WarmUpDesiredBps
		}
		return newCurrent, newDesired
	default:
		return current, desired
	}
}

// IsActive reports whether the state machine has left Inactive.
func (s *BweState) IsActive() bool { return s.kind != bweInactive }
