package room

import (
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/media/audiomixer"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// Output is the union of everything a Room can emit in one tick: events
// destined for a local endpoint, or overlay control/data frames, or the
// GC signal once every sub-registry is empty.
type Output[Endpoint comparable] struct {
	Publisher       *PublisherOutput[Endpoint]
	Subscriber      *SubscriberOutput[Endpoint]
	Datachannel     *RouterOutput[Endpoint]
	MessageChannel  *RouterOutput[Endpoint]
	OnResourceEmpty bool
}

// Room is the cluster room core (spec §4.2): it owns the media channel
// publisher/subscriber registries, the datachannel and message-channel
// label routers, and per-endpoint Manual audio mixers, and round-robins
// their queued output. Grounded on cluster/room/media_track.rs's
// TaskSwitcherBranch composition, adapted from per-track to per-room
// registries to match the registry-of-(owner,track) shape spec §4.2
// describes.
type Room[Endpoint comparable] struct {
	hash identity.ClusterRoomHash

	media       *ChannelPublisher[Endpoint]
	mediaSub    *ChannelSubscriber[Endpoint]
	datachannel *LabelRouter[Endpoint]
	msgChannel  *LabelRouter[Endpoint]

	mixers map[Endpoint]*audiomixer.Manual

	autoChannel identity.ChannelId
	autoPub     *audiomixer.AutoPublisher
	autoSub     *audiomixer.AutoSubscriber

	switcher *roomSwitcher
}

// roomSwitcher cycles across the room's four sub-registries. The cursor
// stays on the registry that last produced output, so that registry is
// polled first again until it runs dry; only then do the others get a turn.
type roomSwitcher struct {
	cursor int
}

// NewRoom creates an empty room identified by hash.
func NewRoom[Endpoint comparable](hash identity.ClusterRoomHash) *Room[Endpoint] {
	autoChannel := identity.GenMsgChannelId(hash, "audio-mixer-auto")
	return &Room[Endpoint]{
		hash:        hash,
		media:       NewChannelPublisher[Endpoint](hash),
		mediaSub:    NewChannelSubscriber[Endpoint](hash),
		datachannel: NewLabelRouter[Endpoint](hash),
		msgChannel:  NewLabelRouter[Endpoint](hash),
		mixers:      make(map[Endpoint]*audiomixer.Manual),
		autoChannel: autoChannel,
		autoPub:     audiomixer.NewAutoPublisher(autoChannel, 3*time.Second),
		autoSub:     audiomixer.NewAutoSubscriber(autoChannel, 3*time.Second),
		switcher:    &roomSwitcher{},
	}
}

// Hash returns the room's cluster-wide identity.
func (r *Room[Endpoint]) Hash() identity.ClusterRoomHash { return r.hash }

// Media exposes the media channel publisher registry.
func (r *Room[Endpoint]) Media() *ChannelPublisher[Endpoint] { return r.media }

// MediaSub exposes the media channel subscriber registry.
func (r *Room[Endpoint]) MediaSub() *ChannelSubscriber[Endpoint] { return r.mediaSub }

// Datachannel exposes the datachannel label router.
func (r *Room[Endpoint]) Datachannel() *LabelRouter[Endpoint] { return r.datachannel }

// MessageChannel exposes the message-channel label router.
func (r *Room[Endpoint]) MessageChannel() *LabelRouter[Endpoint] { return r.msgChannel }

// EnsureMixer returns endpoint's Manual audio mixer, creating one with
// the room's standard 3-slot / 3s-silence-timeout configuration
// (spec §8 scenario 3) if it does not yet exist.
func (r *Room[Endpoint]) EnsureMixer(endpoint Endpoint, outputs []identity.LocalTrackId) *audiomixer.Manual {
	if m, ok := r.mixers[endpoint]; ok {
		return m
	}
	m := audiomixer.NewManual(r.hash, outputs, 3*time.Second)
	r.mixers[endpoint] = m
	return m
}

// AutoPublisher exposes the room's single publisher-side Auto mixer
// (spec §4.3 "Auto mixer"): every published audio track feeds it directly.
func (r *Room[Endpoint]) AutoPublisher() *audiomixer.AutoPublisher { return r.autoPub }

// AutoSubscriber exposes the room's single subscriber-side Auto mixer
// fan-out, keyed by peer_hash so each endpoint never hears itself.
func (r *Room[Endpoint]) AutoSubscriber() *audiomixer.AutoSubscriber { return r.autoSub }

// AutoMixerChannel is the well-known overlay channel the Auto mixer's
// pre-mixed AudioMixerPkt stream travels on.
func (r *Room[Endpoint]) AutoMixerChannel() identity.ChannelId { return r.autoChannel }

// AutoMixerLeave cascades a departing peer out of both Auto-mixer halves,
// matching spec §8 scenario 6. Room.OnEndpointLeave handles the other
// four registries; this is kept separate since Auto is keyed by
// identity.PeerId rather than the room's generic Endpoint type.
func (r *Room[Endpoint]) AutoMixerLeave(peer identity.PeerId) {
	r.autoPub.OnEndpointLeave(peer)
	r.autoSub.OnEndpointLeave(peer)
}

// DeliverMixerData feeds a decoded source packet to every per-endpoint
// Manual mixer that has channel among its attached sources (spec §4.3
// "Manual mixer").
func (r *Room[Endpoint]) DeliverMixerData(now time.Time, channel identity.ChannelId, pkt wire.MediaPacket) {
	for _, m := range r.mixers {
		if m.HasSource(channel) {
			m.OnSourcePkt(now, channel, pkt)
		}
	}
}

// DrainMixerOutput pops one queued output across every per-endpoint Manual
// mixer, alongside the endpoint that owns it.
func (r *Room[Endpoint]) DrainMixerOutput() (Endpoint, audiomixer.ManualOutput, bool) {
	for ep, m := range r.mixers {
		if out, ok := m.PopOutput(); ok {
			return ep, out, true
		}
	}
	var zero Endpoint
	return zero, audiomixer.ManualOutput{}, false
}

// OnEndpointLeave cascades leave handling through every sub-registry,
// matching spec §8 scenario 6 (exactly one Unsub/PubStop transition per
// held subscription/publication).
func (r *Room[Endpoint]) OnEndpointLeave(endpoint Endpoint) {
	r.media.OnEndpointLeave(endpoint)
	r.mediaSub.OnEndpointLeave(endpoint)
	r.datachannel.OnEndpointLeave(endpoint)
	r.msgChannel.OnEndpointLeave(endpoint)
	if m, ok := r.mixers[endpoint]; ok {
		m.Close()
	}
}

// OnTick advances every per-endpoint mixer's silence-eviction clock, plus
// the room's Auto mixer publisher/subscriber halves.
func (r *Room[Endpoint]) OnTick(now time.Time) {
	for _, m := range r.mixers {
		m.OnTick(now)
	}
	r.autoPub.OnTick(now)
	r.autoSub.OnTick(now)
}

// PopOutput drains at most one queued output across the room's four
// sub-registries, round-robin, returning OnResourceEmpty once none of
// them (nor any mixer) holds live state (spec §4.2.3 invariant / §8
// scenario 6's "subsequent ticks find the room empty and destroy it").
func (r *Room[Endpoint]) PopOutput() (Output[Endpoint], bool) {
	for i := 0; i < 4; i++ {
		slot := (r.switcher.cursor + i) % 4
		switch slot {
		case 0:
			if out, ok := r.media.PopOutput(); ok {
				r.switcher.cursor = slot
				return Output[Endpoint]{Publisher: &out}, true
			}
		case 1:
			if out, ok := r.mediaSub.PopOutput(); ok {
				r.switcher.cursor = slot
				return Output[Endpoint]{Subscriber: &out}, true
			}
		case 2:
			if out, ok := r.datachannel.PopOutput(); ok {
				r.switcher.cursor = slot
				return Output[Endpoint]{Datachannel: &out}, true
			}
		case 3:
			if out, ok := r.msgChannel.PopOutput(); ok {
				r.switcher.cursor = slot
				return Output[Endpoint]{MessageChannel: &out}, true
			}
		}
	}

	// Per-endpoint mixer output is not surfaced here: it is drained
	// separately through DrainMixerOutput, which pairs each event with the
	// endpoint that owns the mixer, since mixer events (SlotSet/Media/...)
	// target that one endpoint only.

	if r.IsEmpty() {
		return Output[Endpoint]{OnResourceEmpty: true}, true
	}
	return Output[Endpoint]{}, false
}

// IsEmpty reports whether all four registries and every mixer are empty,
// the room-destruction precondition (spec §4.2.3 / §8 invariant 6).
func (r *Room[Endpoint]) IsEmpty() bool {
	if !r.media.IsEmpty() || !r.mediaSub.IsEmpty() || !r.datachannel.IsEmpty() || !r.msgChannel.IsEmpty() {
		return false
	}
	for _, m := range r.mixers {
		if !m.IsEmpty() {
			return false
		}
	}
	return r.autoPub.IsEmpty() && r.autoSub.IsEmpty()
}
