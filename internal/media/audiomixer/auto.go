package audiomixer

import (
	"time"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// publisherKey identifies one remote audio track at the publishing endpoint.
type publisherKey struct {
	Endpoint identity.PeerId
	Track    identity.RemoteTrackId
}

// AutoPublisherOutputKind tags an AutoPublisher output.
type AutoPublisherOutputKind int

const (
	AutoPublisherPubStart AutoPublisherOutputKind = iota
	AutoPublisherPubStop
	AutoPublisherPubData
)

// AutoPublisherOutput is one overlay control/data event from AutoPublisher.
type AutoPublisherOutput struct {
	Kind AutoPublisherOutputKind
	Data wire.AudioMixerPkt
}

// AutoPublisher is the single per-room mixer that ranks all local audio
// tracks from publishing endpoints and publishes a pre-mixed
// AudioMixerPkt stream on one well-known channel (spec §4.3 "Auto mixer").
// Grounded on cluster/room/audio_mixer/publisher.rs.
type AutoPublisher struct {
	channel identity.ChannelId
	tracks  map[publisherKey]uint32 // peer hash
	mixer   *Mixer[publisherKey]
	queue   []AutoPublisherOutput
}

// NewAutoPublisher creates the room's single Auto-mode publisher mixer.
func NewAutoPublisher(channel identity.ChannelId, silenceTimeout time.Duration) *AutoPublisher {
	return &AutoPublisher{
		channel: channel,
		tracks:  make(map[publisherKey]uint32),
		mixer:   New[publisherKey](3, silenceTimeout),
	}
}

// OnTrackPublish registers a new remote audio track as a mix candidate.
func (p *AutoPublisher) OnTrackPublish(endpoint identity.PeerId, track identity.RemoteTrackId, peerHash uint32) {
	key := publisherKey{Endpoint: endpoint, Track: track}
	wasEmpty := len(p.tracks) == 0
	p.tracks[key] = peerHash
	if wasEmpty {
		p.queue = append(p.queue, AutoPublisherOutput{Kind: AutoPublisherPubStart})
	}
}

// OnTrackUnpublish removes a track from the mix candidate set.
func (p *AutoPublisher) OnTrackUnpublish(endpoint identity.PeerId, track identity.RemoteTrackId) {
	key := publisherKey{Endpoint: endpoint, Track: track}
	if _, exists := p.tracks[key]; !exists {
		return
	}
	delete(p.tracks, key)
	if len(p.tracks) == 0 {
		p.queue = append(p.queue, AutoPublisherOutput{Kind: AutoPublisherPubStop})
	}
}

// OnTrackData feeds one Opus packet from endpoint/track. If the source ranks
// into a slot this tick, the pre-mixed packet is queued for publication.
func (p *AutoPublisher) OnTrackData(now time.Time, endpoint identity.PeerId, track identity.RemoteTrackId, pkt wire.MediaPacket) {
	if pkt.Meta.Kind != wire.MetaOpus {
		return
	}
	key := publisherKey{Endpoint: endpoint, Track: track}
	slotIdx, _, ok := p.mixer.OnPkt(now, key, pkt.Meta.AudioLevel)
	if !ok {
		return
	}
	peerHash, known := p.tracks[key]
	if !known {
		return
	}
	p.queue = append(p.queue, AutoPublisherOutput{Kind: AutoPublisherPubData, Data: wire.AudioMixerPkt{
		Slot:        uint8(slotIdx),
		PeerHash:    peerHash,
		Track:       uint16(track),
		AudioLevel:  pkt.Meta.AudioLevel,
		Ts:          pkt.Ts,
		Seq:         pkt.Seq,
		OpusPayload: pkt.Data,
	}})
}

// OnEndpointLeave removes every track owned by endpoint, matching the
// room's leave cascade for the other registries (spec §8 scenario 6).
func (p *AutoPublisher) OnEndpointLeave(endpoint identity.PeerId) {
	for key := range p.tracks {
		if key.Endpoint == endpoint {
			p.OnTrackUnpublish(key.Endpoint, key.Track)
		}
	}
}

// OnTick evicts silent slots (no output: the original reserves this for a
// future channel-teardown hook but does not emit anything today).
func (p *AutoPublisher) OnTick(now time.Time) {
	p.mixer.OnTick(now)
}

// PopOutput drains one queued output, if any.
func (p *AutoPublisher) PopOutput() (AutoPublisherOutput, bool) {
	if len(p.queue) == 0 {
		return AutoPublisherOutput{}, false
	}
	out := p.queue[0]
	p.queue = p.queue[1:]
	return out, true
}

// IsEmpty reports whether there are no publishing tracks and no queued output.
func (p *AutoPublisher) IsEmpty() bool { return len(p.tracks) == 0 && len(p.queue) == 0 }

// subscriberSlot tracks one endpoint's local output tracks in Auto mode.
type subscriberSlot struct {
	peerHash uint32
	tracks   []identity.LocalTrackId
}

// AutoSubscriberOutputKind tags an AutoSubscriber output.
type AutoSubscriberOutputKind int

const (
	AutoSubscriberSubAuto AutoSubscriberOutputKind = iota
	AutoSubscriberUnsubAuto
	AutoSubscriberSourceChanged
	AutoSubscriberMedia
)

// AutoSubscriberOutput targets one endpoint with a local-track event.
type AutoSubscriberOutput struct {
	Kind     AutoSubscriberOutputKind
	Endpoint identity.PeerId
	Track    identity.LocalTrackId
	Pkt      wire.MediaPacket
}

// AutoSubscriber fans the Auto publisher's pre-mixed stream out to every
// subscribing endpoint, skipping packets whose peer hash equals the
// subscriber's own (spec §4.3 "never hear yourself"). Grounded on
// cluster/room/audio_mixer/subscriber.rs.
type AutoSubscriber struct {
	channel   identity.ChannelId
	endpoints map[identity.PeerId]subscriberSlot
	mixer     *Mixer[uint8]
	queue     []AutoSubscriberOutput
}

// NewAutoSubscriber creates the room's single Auto-mode subscriber fan-out.
func NewAutoSubscriber(channel identity.ChannelId, silenceTimeout time.Duration) *AutoSubscriber {
	return &AutoSubscriber{
		channel:   channel,
		endpoints: make(map[identity.PeerId]subscriberSlot),
		mixer:     New[uint8](3, silenceTimeout),
	}
}

// OnEndpointJoin registers an endpoint's local output tracks, one per slot.
func (s *AutoSubscriber) OnEndpointJoin(endpoint, peer identity.PeerId, peerHash uint32, tracks []identity.LocalTrackId) {
	wasEmpty := len(s.endpoints) == 0
	s.endpoints[endpoint] = subscriberSlot{peerHash: peerHash, tracks: tracks}
	if wasEmpty {
		s.queue = append(s.queue, AutoSubscriberOutput{Kind: AutoSubscriberSubAuto})
	}
}

// OnEndpointLeave removes an endpoint from the fan-out set.
func (s *AutoSubscriber) OnEndpointLeave(endpoint identity.PeerId) {
	if _, exists := s.endpoints[endpoint]; !exists {
		return
	}
	delete(s.endpoints, endpoint)
	if len(s.endpoints) == 0 {
		s.queue = append(s.queue, AutoSubscriberOutput{Kind: AutoSubscriberUnsubAuto})
	}
}

// OnChannelData feeds one AudioMixerPkt received from the overlay, fanning it
// out to every subscribing endpoint except the one that published it.
func (s *AutoSubscriber) OnChannelData(now time.Time, audio wire.AudioMixerPkt) {
	slotIdx, justSet, ok := s.mixer.OnPkt(now, audio.Slot, audio.AudioLevel)
	if !ok {
		return
	}
	for endpoint, slot := range s.endpoints {
		if slot.peerHash == audio.PeerHash {
			continue // never hear yourself
		}
		if slotIdx >= len(slot.tracks) {
			continue
		}
		track := slot.tracks[slotIdx]
		if justSet {
			s.queue = append(s.queue, AutoSubscriberOutput{Kind: AutoSubscriberSourceChanged, Endpoint: endpoint, Track: track})
		}
		s.queue = append(s.queue, AutoSubscriberOutput{
			Kind:     AutoSubscriberMedia,
			Endpoint: endpoint,
			Track:    track,
			Pkt: wire.MediaPacket{
				Ts:       audio.Ts,
				Seq:      audio.Seq,
				Marker:   true,
				Nackable: false,
				Meta:     wire.MediaMeta{Kind: wire.MetaOpus, AudioLevel: audio.AudioLevel},
				Data:     audio.OpusPayload,
			},
		})
	}
}

// OnTick evicts silent slots.
func (s *AutoSubscriber) OnTick(now time.Time) {
	s.mixer.OnTick(now)
}

// PopOutput drains one queued output, if any.
func (s *AutoSubscriber) PopOutput() (AutoSubscriberOutput, bool) {
	if len(s.queue) == 0 {
		return AutoSubscriberOutput{}, false
	}
	out := s.queue[0]
	s.queue = s.queue[1:]
	return out, true
}

// IsEmpty reports whether there are no subscribing endpoints and no queued output.
func (s *AutoSubscriber) IsEmpty() bool { return len(s.endpoints) == 0 && len(s.queue) == 0 }
