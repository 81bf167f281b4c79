package audiomixer

import (
	"log/slog"
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// Source identifies one publishing (peer, track) pair a subscriber wants
// mixed in.
type Source struct {
	Peer identity.PeerId
	Name identity.TrackName
}

// ManualOutputKind tags a ManualMixer output.
type ManualOutputKind int

const (
	ManualOutputSubAuto ManualOutputKind = iota
	ManualOutputUnsubAuto
	ManualOutputSourceChanged
	ManualOutputSlotSet
	ManualOutputSlotUnset
	ManualOutputMedia
)

// ManualOutput is one event a ManualMixer emits toward either the overlay
// (SubAuto/UnsubAuto) or the owning endpoint (everything else).
type ManualOutput struct {
	Kind    ManualOutputKind
	Channel identity.ChannelId
	Track   identity.LocalTrackId
	Slot    int
	Source  Source
	Pkt     wire.MediaPacket
}

// Manual implements the per-subscriber mixer mode from spec §4.3: one mixer
// per endpoint, subscribing to the set of source tracks it wants mixed.
// Grounded on cluster/room/audio_mixer/manual.rs.
type Manual struct {
	room    identity.ClusterRoomHash
	outputs []identity.LocalTrackId
	sources map[identity.ChannelId]Source
	mixer   *Mixer[identity.ChannelId]
	queue   []ManualOutput
	closed  bool
}

// NewManual creates a Manual mixer with one output local track per slot.
func NewManual(room identity.ClusterRoomHash, outputs []identity.LocalTrackId, silenceTimeout time.Duration) *Manual {
	return &Manual{
		room:    room,
		outputs: outputs,
		sources: make(map[identity.ChannelId]Source),
		mixer:   New[identity.ChannelId](len(outputs), silenceTimeout),
	}
}

// Attach subscribes to a new candidate source's media channel.
func (m *Manual) Attach(source Source) {
	channel := identity.GenChannelId(m.room, source.Peer, source.Name)
	if _, exists := m.sources[channel]; exists {
		return
	}
	m.sources[channel] = source
	m.queue = append(m.queue, ManualOutput{Kind: ManualOutputSubAuto, Channel: channel})
}

// Detach unsubscribes from a source's media channel.
func (m *Manual) Detach(source Source) {
	channel := identity.GenChannelId(m.room, source.Peer, source.Name)
	if _, exists := m.sources[channel]; !exists {
		return
	}
	delete(m.sources, channel)
	m.queue = append(m.queue, ManualOutput{Kind: ManualOutputUnsubAuto, Channel: channel})
}

// HasSource reports whether channel is one of this mixer's attached
// sources, used by the room to gate which mixers a given channel's data
// gets delivered to before calling OnSourcePkt.
func (m *Manual) HasSource(channel identity.ChannelId) bool {
	_, ok := m.sources[channel]
	return ok
}

// OnSourcePkt feeds one Opus packet received on channel from the overlay.
func (m *Manual) OnSourcePkt(now time.Time, channel identity.ChannelId, pkt wire.MediaPacket) {
	if pkt.Meta.Kind != wire.MetaOpus {
		return
	}
	slotIdx, justSet, ok := m.mixer.OnPkt(now, channel, pkt.Meta.AudioLevel)
	if !ok {
		return
	}
	track := m.outputs[slotIdx]
	if justSet {
		src, known := m.sources[channel]
		if !known {
			slog.Warn("manual mixer: missing source info for channel", slog.Uint64("channel", uint64(channel)))
			return
		}
		m.queue = append(m.queue, ManualOutput{Kind: ManualOutputSourceChanged, Track: track})
		m.queue = append(m.queue, ManualOutput{Kind: ManualOutputSlotSet, Slot: slotIdx, Source: src, Track: track})
	}
	m.queue = append(m.queue, ManualOutput{Kind: ManualOutputMedia, Track: track, Channel: channel, Pkt: pkt})
}

// OnTick evicts silent slots.
func (m *Manual) OnTick(now time.Time) {
	for _, slotIdx := range m.mixer.OnTick(now) {
		m.queue = append(m.queue, ManualOutput{Kind: ManualOutputSlotUnset, Slot: slotIdx})
	}
}

// PopOutput drains one queued output, if any.
func (m *Manual) PopOutput() (ManualOutput, bool) {
	if len(m.queue) == 0 {
		return ManualOutput{}, false
	}
	out := m.queue[0]
	m.queue = m.queue[1:]
	return out, true
}

// Close unsubscribes every remaining source, matching the original's
// Kill-time cleanup (manual.rs Input::Kill).
func (m *Manual) Close() {
	for channel := range m.sources {
		m.queue = append(m.queue, ManualOutput{Kind: ManualOutputUnsubAuto, Channel: channel})
	}
	m.sources = make(map[identity.ChannelId]Source)
	m.closed = true
}

// IsEmpty reports whether the mixer has been closed and has no queued
// output, matching the room's GC check (spec §4.2.3). A mixer that is still
// open counts as live even with no sources attached.
func (m *Manual) IsEmpty() bool {
	return m.closed && len(m.queue) == 0
}
