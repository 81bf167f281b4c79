package bitrate

import (
	"log/slog"

	"github.com/voicetyped/mediafabric/internal/identity"
)

// IngressOutput is an allocator decision for one remote track.
type IngressOutput struct {
	Track  identity.RemoteTrackId
	SetBps uint64
}

// IngressAllocator divides a fixed ingress capacity across remote video
// tracks proportional to priority (spec §4.1 "Ingress allocator").
type IngressAllocator struct {
	bps     uint64
	changed bool
	tracks  map[identity.RemoteTrackId]uint32
	order   []identity.RemoteTrackId
	queue   []IngressOutput
}

// NewIngressAllocator creates an allocator over a fixed ingress capacity.
func NewIngressAllocator(bps uint64) *IngressAllocator {
	return &IngressAllocator{bps: bps, tracks: make(map[identity.RemoteTrackId]uint32)}
}

// SetVideoTrack registers or updates a remote video track's priority.
func (a *IngressAllocator) SetVideoTrack(track identity.RemoteTrackId, priority uint32) {
	if _, exists := a.tracks[track]; !exists {
		a.order = append(a.order, track)
	}
	a.tracks[track] = priority
	a.changed = true
	slog.Debug("ingress allocator: set video track", slog.Int("track", int(track)), slog.Int("priority", int(priority)))
}

// DelVideoTrack removes a track from the allocation set.
func (a *IngressAllocator) DelVideoTrack(track identity.RemoteTrackId) {
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
func (a *IngressAllocator) OnTick() {
	if !a.changed {
		return
	}
	a.changed = false

	var sum uint64
	for _, p := range a.tracks {
		sum += uint64(p)
	}
	if sum == 0 {
		return
	}
	for _, track := range a.order {
		p := a.tracks[track]
		bps := (a.bps * uint64(p)) / sum
		a.queue = append(a.queue, IngressOutput{Track: track, SetBps: bps})
	}
}

// PopOutput drains one queued output, if any.
func (a *IngressAllocator) PopOutput() (IngressOutput, bool) {
	if len(a.queue) == 0 {
		return IngressOutput{}, false
	}
	out := a.queue[0]
	a.queue = a.queue[1:]
	return out, true
}
