package room

import "github.com/voicetyped/mediafabric/internal/identity"

// RouterOutputKind tags a LabelRouter output.
type RouterOutputKind int

const (
	RouterPubStart RouterOutputKind = iota
	RouterPubStop
	RouterPubData
	RouterSubAuto
	RouterUnsubAuto
	RouterData
)

// RouterOutput is one overlay control/data event, or one local dispatch
// to an endpoint's open channel.
type RouterOutput[Endpoint comparable] struct {
	Kind     RouterOutputKind
	Channel  identity.ChannelId
	Endpoint Endpoint
	Data     []byte
}

// LabelRouter implements the datachannel / message-channel refcount
// pattern (spec §4.2.3): publishers fan out to possibly many labels,
// subscribers key on the same label space, and endpoint leave cascades
// through every subscription/publication for that endpoint emitting each
// Unsub/PubStop transition exactly once. One LabelRouter instance serves
// either the datachannel label space or the message-channel label space;
// the room hosts one of each.
type LabelRouter[Endpoint comparable] struct {
	room identity.ClusterRoomHash

	pubOwners map[Endpoint]map[string]identity.ChannelId // endpoint -> label -> channel
	pubRefs   map[identity.ChannelId]int

	subOwners map[Endpoint]map[string]identity.ChannelId
	subs      map[identity.ChannelId][]Endpoint

	queue []RouterOutput[Endpoint]
}

// NewLabelRouter creates an empty router for room.
func NewLabelRouter[Endpoint comparable](room identity.ClusterRoomHash) *LabelRouter[Endpoint] {
	return &LabelRouter[Endpoint]{
		room:      room,
		pubOwners: make(map[Endpoint]map[string]identity.ChannelId),
		pubRefs:   make(map[identity.ChannelId]int),
		subOwners: make(map[Endpoint]map[string]identity.ChannelId),
		subs:      make(map[identity.ChannelId][]Endpoint),
	}
}

func (r *LabelRouter[Endpoint]) channelFor(label string) identity.ChannelId {
	return identity.GenMsgChannelId(r.room, label)
}

// OnPublish registers endpoint as a publisher of label, emitting
// PubStart on the 0->1 transition of that channel's publisher refcount.
func (r *LabelRouter[Endpoint]) OnPublish(endpoint Endpoint, label string) identity.ChannelId {
	channel := r.channelFor(label)
	labels, ok := r.pubOwners[endpoint]
	if !ok {
		labels = make(map[string]identity.ChannelId)
		r.pubOwners[endpoint] = labels
	}
	if _, already := labels[label]; already {
		return channel
	}
	labels[label] = channel
	r.pubRefs[channel]++
	if r.pubRefs[channel] == 1 {
		r.queue = append(r.queue, RouterOutput[Endpoint]{Kind: RouterPubStart, Channel: channel})
	}
	return channel
}

// OnUnpublish removes endpoint as a publisher of label, emitting PubStop
// on the 1->0 transition.
func (r *LabelRouter[Endpoint]) OnUnpublish(endpoint Endpoint, label string) {
	labels, ok := r.pubOwners[endpoint]
	if !ok {
		return
	}
	channel, ok := labels[label]
	if !ok {
		return
	}
	delete(labels, label)
	if len(labels) == 0 {
		delete(r.pubOwners, endpoint)
	}
	r.pubRefs[channel]--
	if r.pubRefs[channel] <= 0 {
		delete(r.pubRefs, channel)
		r.queue = append(r.queue, RouterOutput[Endpoint]{Kind: RouterPubStop, Channel: channel})
	}
}

// OnPublishData emits PubData for every label endpoint currently
// publishes, fanning one payload out to all of them.
func (r *LabelRouter[Endpoint]) OnPublishData(endpoint Endpoint, data []byte) {
	for _, channel := range r.pubOwners[endpoint] {
		r.queue = append(r.queue, RouterOutput[Endpoint]{Kind: RouterPubData, Channel: channel, Data: data})
	}
}

// OnSubscribe registers endpoint as a subscriber of label, emitting
// SubAuto on the 0->1 transition.
func (r *LabelRouter[Endpoint]) OnSubscribe(endpoint Endpoint, label string) identity.ChannelId {
	channel := r.channelFor(label)
	labels, ok := r.subOwners[endpoint]
	if !ok {
		labels = make(map[string]identity.ChannelId)
		r.subOwners[endpoint] = labels
	}
	if _, already := labels[label]; already {
		return channel
	}
	labels[label] = channel
	wasEmpty := len(r.subs[channel]) == 0
	r.subs[channel] = append(r.subs[channel], endpoint)
	if wasEmpty {
		r.queue = append(r.queue, RouterOutput[Endpoint]{Kind: RouterSubAuto, Channel: channel})
	}
	return channel
}

// OnUnsubscribe removes endpoint as a subscriber of label, emitting
// UnsubAuto on the 1->0 transition.
func (r *LabelRouter[Endpoint]) OnUnsubscribe(endpoint Endpoint, label string) {
	labels, ok := r.subOwners[endpoint]
	if !ok {
		return
	}
	channel, ok := labels[label]
	if !ok {
		return
	}
	delete(labels, label)
	if len(labels) == 0 {
		delete(r.subOwners, endpoint)
	}
	subs := r.subs[channel]
	for i, e := range subs {
		if e == endpoint {
			last := len(subs) - 1
			subs[i] = subs[last]
			subs = subs[:last]
			break
		}
	}
	if len(subs) == 0 {
		delete(r.subs, channel)
		r.queue = append(r.queue, RouterOutput[Endpoint]{Kind: RouterUnsubAuto, Channel: channel})
	} else {
		r.subs[channel] = subs
	}
}

// OnChannelData fans payload out to every subscriber of channel.
func (r *LabelRouter[Endpoint]) OnChannelData(channel identity.ChannelId, data []byte) {
	for _, endpoint := range r.subs[channel] {
		r.queue = append(r.queue, RouterOutput[Endpoint]{Kind: RouterData, Channel: channel, Endpoint: endpoint, Data: data})
	}
}

// OnEndpointLeave cascades through every subscription and publication
// endpoint held, emitting each Unsub/PubStop transition exactly once.
func (r *LabelRouter[Endpoint]) OnEndpointLeave(endpoint Endpoint) {
	for label := range r.pubOwners[endpoint] {
		r.OnUnpublish(endpoint, label)
	}
	for label := range r.subOwners[endpoint] {
		r.OnUnsubscribe(endpoint, label)
	}
}

// PopOutput drains one queued output, if any.
func (r *LabelRouter[Endpoint]) PopOutput() (RouterOutput[Endpoint], bool) {
	if len(r.queue) == 0 {
		return RouterOutput[Endpoint]{}, false
	}
	out := r.queue[0]
	r.queue = r.queue[1:]
	return out, true
}

// IsEmpty reports whether the router holds no publishers, no
// subscribers, and no queued output (spec §4.2.3 invariant).
func (r *LabelRouter[Endpoint]) IsEmpty() bool {
	return len(r.pubOwners) == 0 && len(r.subOwners) == 0 && len(r.queue) == 0
}
