package room

import (
	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// EndpointTrack identifies one local track an endpoint subscribes on.
type EndpointTrack[Endpoint comparable] struct {
	Endpoint Endpoint
	Track    identity.LocalTrackId
}

// SubscriberOutputKind tags a ChannelSubscriber output.
type SubscriberOutputKind int

const (
	SubscriberSubAuto SubscriberOutputKind = iota
	SubscriberUnsubAuto
	SubscriberFeedbackAuto
	SubscriberMedia
	SubscriberSourceChanged
)

// SubscriberOutput is one event the subscriber emits toward the overlay
// (SubAuto/UnsubAuto/FeedbackAuto) or toward a local endpoint's track
// (Media/SourceChanged).
type SubscriberOutput[Endpoint comparable] struct {
	Kind     SubscriberOutputKind
	Channel  identity.ChannelId
	Endpoint Endpoint
	Track    identity.LocalTrackId
	Pkt      wire.MediaPacket
}

type subscriberEntry[Endpoint comparable] struct {
	channel identity.ChannelId
	peer    identity.PeerId
	name    identity.TrackName
}

// ChannelSubscriber is the room-scoped media subscribe registry: it maps
// each overlay channel to the ordered set of (endpoint, local track)
// subscribers wanting its data, refcounting SubAuto/UnsubAuto emission on
// the 0->1/1->0 transitions.
type ChannelSubscriber[Endpoint comparable] struct {
	room      identity.ClusterRoomHash
	byChannel map[identity.ChannelId][]EndpointTrack[Endpoint]
	byOwner   map[EndpointTrack[Endpoint]]subscriberEntry[Endpoint]
	queue     []SubscriberOutput[Endpoint]
}

// NewChannelSubscriber creates an empty subscriber registry for room.
func NewChannelSubscriber[Endpoint comparable](room identity.ClusterRoomHash) *ChannelSubscriber[Endpoint] {
	return &ChannelSubscriber[Endpoint]{
		room:      room,
		byChannel: make(map[identity.ChannelId][]EndpointTrack[Endpoint]),
		byOwner:   make(map[EndpointTrack[Endpoint]]subscriberEntry[Endpoint]),
	}
}

// OnTrackSubscribe appends endpoint/local as a subscriber of (peer, name),
// emitting SubAuto if this is the channel's first subscriber.
func (s *ChannelSubscriber[Endpoint]) OnTrackSubscribe(endpoint Endpoint, local identity.LocalTrackId, peer identity.PeerId, name identity.TrackName) identity.ChannelId {
	channel := identity.GenChannelId(s.room, peer, name)
	key := EndpointTrack[Endpoint]{Endpoint: endpoint, Track: local}
	s.byOwner[key] = subscriberEntry[Endpoint]{channel: channel, peer: peer, name: name}

	subs := s.byChannel[channel]
	wasEmpty := len(subs) == 0
	s.byChannel[channel] = append(subs, key)
	if wasEmpty {
		s.queue = append(s.queue, SubscriberOutput[Endpoint]{Kind: SubscriberSubAuto, Channel: channel})
	}
	return channel
}

// OnTrackUnsubscribe removes endpoint/local via swap-remove, emitting
// UnsubAuto if the channel has no subscribers left.
func (s *ChannelSubscriber[Endpoint]) OnTrackUnsubscribe(endpoint Endpoint, local identity.LocalTrackId) {
	key := EndpointTrack[Endpoint]{Endpoint: endpoint, Track: local}
	entry, ok := s.byOwner[key]
	if !ok {
		return
	}
	delete(s.byOwner, key)

	subs := s.byChannel[entry.channel]
	for i, k := range subs {
		if k == key {
			last := len(subs) - 1
			subs[i] = subs[last]
			subs = subs[:last]
			break
		}
	}
	if len(subs) == 0 {
		delete(s.byChannel, entry.channel)
		s.queue = append(s.queue, SubscriberOutput[Endpoint]{Kind: SubscriberUnsubAuto, Channel: entry.channel})
	} else {
		s.byChannel[entry.channel] = subs
	}
}

// OnChannelData deserializes once and fans the packet out to every
// subscriber of channel.
func (s *ChannelSubscriber[Endpoint]) OnChannelData(channel identity.ChannelId, data []byte) error {
	pkt, err := wire.Decode(data)
	if err != nil {
		return err
	}
	for _, key := range s.byChannel[channel] {
		s.queue = append(s.queue, SubscriberOutput[Endpoint]{Kind: SubscriberMedia, Channel: channel, Endpoint: key.Endpoint, Track: key.Track, Pkt: pkt.Clone()})
	}
	return nil
}

// OnChannelRelayChanged notifies every subscriber of channel that its
// upstream relay changed, so each resets its packet selector.
func (s *ChannelSubscriber[Endpoint]) OnChannelRelayChanged(channel identity.ChannelId) {
	for _, key := range s.byChannel[channel] {
		s.queue = append(s.queue, SubscriberOutput[Endpoint]{Kind: SubscriberSourceChanged, Channel: channel, Endpoint: key.Endpoint, Track: key.Track})
	}
}

// OnTrackRequestKey emits a FeedbackAuto(KeyFrameRequest) on the channel
// endpoint/local is subscribed on.
func (s *ChannelSubscriber[Endpoint]) OnTrackRequestKey(endpoint Endpoint, local identity.LocalTrackId) {
	key := EndpointTrack[Endpoint]{Endpoint: endpoint, Track: local}
	entry, ok := s.byOwner[key]
	if !ok {
		return
	}
	s.queue = append(s.queue, SubscriberOutput[Endpoint]{Kind: SubscriberFeedbackAuto, Channel: entry.channel})
}

// OnEndpointLeave unsubscribes every track endpoint held, emitting
// matching UnsubAuto transitions exactly once each (spec §8 scenario 6).
func (s *ChannelSubscriber[Endpoint]) OnEndpointLeave(endpoint Endpoint) {
	var tracks []identity.LocalTrackId
	for key := range s.byOwner {
		if key.Endpoint == endpoint {
			tracks = append(tracks, key.Track)
		}
	}
	for _, track := range tracks {
		s.OnTrackUnsubscribe(endpoint, track)
	}
}

// PopOutput drains one queued output, if any.
func (s *ChannelSubscriber[Endpoint]) PopOutput() (SubscriberOutput[Endpoint], bool) {
	if len(s.queue) == 0 {
		return SubscriberOutput[Endpoint]{}, false
	}
	out := s.queue[0]
	s.queue = s.queue[1:]
	return out, true
}

// IsEmpty reports whether the registry holds no subscriptions and no
// queued output.
func (s *ChannelSubscriber[Endpoint]) IsEmpty() bool {
	return len(s.byOwner) == 0 && len(s.queue) == 0
}
