package bitrate

import (
	"log/slog"

	"github.com/voicetyped/mediafabric/internal/identity"
)

// Constants ported verbatim from bitrate_allocator/egress.rs.
const (
	DefaultBitrateBps uint64 = 800_000
	NoTrackBweCurrent uint64 = 100_000
	NoTrackBweDesired uint64 = 300_000
)

// EgressAction is an allocator decision for one local track.
type EgressAction struct {
	Track   identity.LocalTrackId
	SetBps  uint64
}

// EgressOutput is either a per-track bitrate or a BWE config update.
type EgressOutput struct {
	Track        *identity.LocalTrackId
	Action       EgressAction
	IsBweConfig  bool
	BweCurrent   uint64
	BweDesired   uint64
}

// EgressAllocator divides an egress capacity estimate across local video
// tracks proportional to priority (spec §4.1 "Egress allocator").
type EgressAllocator struct {
	maxBps   uint64
	changed  bool
	estimate uint64
	tracks   map[identity.LocalTrackId]uint32
	order    []identity.LocalTrackId
	queue    []EgressOutput
}

// NewEgressAllocator creates an allocator capped at maxBps.
func NewEgressAllocator(maxBps uint64) *EgressAllocator {
	return &EgressAllocator{
		maxBps:   maxBps,
		estimate: DefaultBitrateBps,
		tracks:   make(map[identity.LocalTrackId]uint32),
	}
}

// SetEstimate records a new egress bandwidth estimate (e.g. from the
// transport's EgressBitrateEstimate event).
func (a *EgressAllocator) SetEstimate(bps uint64) {
	a.estimate = bps
	a.changed = true
}

// SetVideoTrack registers or updates a video track's priority.
func (a *EgressAllocator) SetVideoTrack(track identity.LocalTrackId, priority uint32) {
	if _, exists := a.tracks[track]; !exists {
		a.order = append(a.order, track)
	}
	a.tracks[track] = priority
	a.changed = true
	slog.Debug("egress allocator: set video track", slog.Int("track", int(track)), slog.Int("priority", int(priority)))
}

// DelVideoTrack removes a track from the allocation set.
func (a *EgressAllocator) DelVideoTrack(track identity.LocalTrackId) {
	if _, exists := a.tracks[track]; !exists {
		return
	}
	delete(a.tracks, track)
	for i, t := range a.order {
		if t == track {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	a.changed = true
}

// OnTick recomputes allocation when inputs changed since the last tick.
func (a *EgressAllocator) OnTick() {
	if !a.changed {
		return
	}
	a.changed = false

	useBps := a.estimate
	if useBps > a.maxBps {
		useBps = a.maxBps
	}

	var sum uint64
	for _, p := range a.tracks {
		sum += uint64(p)
	}

	if sum != 0 {
		for _, track := range a.order {
			p := a.tracks[track]
			bps := (useBps * uint64(p)) / sum
			t := track
			a.queue = append(a.queue, EgressOutput{Track: &t, Action: EgressAction{Track: track, SetBps: bps}})
		}
	}

	if len(a.tracks) > 0 {
		current := useBps
		desired := useBps * 6 / 5
		if desired > a.maxBps {
			desired = a.maxBps
		}
		a.queue = append(a.queue, EgressOutput{IsBweConfig: true, BweCurrent: current, BweDesired: desired})
	} else {
		a.queue = append(a.queue, EgressOutput{IsBweConfig: true, BweCurrent: NoTrackBweCurrent, BweDesired: NoTrackBweDesired})
	}
}

// PopOutput drains one queued output, if any.
func (a *EgressAllocator) PopOutput() (EgressOutput, bool) {
	if len(a.queue) == 0 {
		return EgressOutput{}, false
	}
	out := a.queue[0]
	a.queue = a.queue[1:]
	return out, true
}
