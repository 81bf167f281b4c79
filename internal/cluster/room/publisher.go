// Package room implements the Cluster Room Core (spec §4.2): the media,
// datachannel, and message-channel publish/subscribe registries that live
// inside one room and fan data between local endpoints and the cluster
// overlay. Grounded on cluster/room/media_track/{publisher,subscriber}.rs.
package room

import (
	"log/slog"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// OwnerTrack identifies one remote track published by one endpoint.
type OwnerTrack[Endpoint comparable] struct {
	Owner Endpoint
	Track identity.RemoteTrackId
}

// PublisherOutputKind tags a ChannelPublisher output.
type PublisherOutputKind int

const (
	PublisherPubStart PublisherOutputKind = iota
	PublisherPubStop
	PublisherPubData
	PublisherRequestKeyFrame
)

// PublisherOutput is one event the publisher emits either toward the
// overlay (PubStart/PubStop/PubData) or toward a local endpoint
// (RequestKeyFrame).
type PublisherOutput[Endpoint comparable] struct {
	Kind    PublisherOutputKind
	Channel identity.ChannelId
	Data    []byte
	Owner   Endpoint
	Track   identity.RemoteTrackId
}

// FeedbackKind enumerates the subset of RTCP-derived feedback the room
// interprets (spec §4.2.4): only KeyFrameRequest is actionable today,
// Bitrate is reserved for the subscriber's own desired-bitrate loop.
type FeedbackKind int

const (
	FeedbackKeyFrameRequest FeedbackKind = iota
	FeedbackBitrate
)

type publisherEntry[Endpoint comparable] struct {
	peer    identity.PeerId
	name    identity.TrackName
	channel identity.ChannelId
}

// ChannelPublisher is the room-scoped media publish registry: it maps
// each (owner endpoint, remote track) pair to the overlay channel it
// publishes on, and fans publish/data/unpublish through as overlay
// control/data events.
type ChannelPublisher[Endpoint comparable] struct {
	room      identity.ClusterRoomHash
	byOwner   map[OwnerTrack[Endpoint]]publisherEntry[Endpoint]
	byChannel map[identity.ChannelId]OwnerTrack[Endpoint]
	queue     []PublisherOutput[Endpoint]
}

// NewChannelPublisher creates an empty publisher registry for room.
func NewChannelPublisher[Endpoint comparable](room identity.ClusterRoomHash) *ChannelPublisher[Endpoint] {
	return &ChannelPublisher[Endpoint]{
		room:      room,
		byOwner:   make(map[OwnerTrack[Endpoint]]publisherEntry[Endpoint]),
		byChannel: make(map[identity.ChannelId]OwnerTrack[Endpoint]),
	}
}

// OnTrackPublish registers owner's track as a publisher of (peer, name)
// and emits PubStart on the derived channel.
func (p *ChannelPublisher[Endpoint]) OnTrackPublish(owner Endpoint, track identity.RemoteTrackId, peer identity.PeerId, name identity.TrackName) identity.ChannelId {
	key := OwnerTrack[Endpoint]{Owner: owner, Track: track}
	channel := identity.GenChannelId(p.room, peer, name)
	p.byOwner[key] = publisherEntry[Endpoint]{peer: peer, name: name, channel: channel}
	p.byChannel[channel] = key
	p.queue = append(p.queue, PublisherOutput[Endpoint]{Kind: PublisherPubStart, Channel: channel})
	return channel
}

// OnTrackData emits PubData for a known (owner, track); unknown pairs are
// silently dropped, matching the original's "if known, else drop".
func (p *ChannelPublisher[Endpoint]) OnTrackData(owner Endpoint, track identity.RemoteTrackId, media wire.MediaPacket) {
	key := OwnerTrack[Endpoint]{Owner: owner, Track: track}
	entry, ok := p.byOwner[key]
	if !ok {
		return
	}
	p.queue = append(p.queue, PublisherOutput[Endpoint]{Kind: PublisherPubData, Channel: entry.channel, Data: wire.Encode(media)})
}

// OnTrackUnpublish removes the (owner, track) mapping and emits PubStop.
func (p *ChannelPublisher[Endpoint]) OnTrackUnpublish(owner Endpoint, track identity.RemoteTrackId) {
	key := OwnerTrack[Endpoint]{Owner: owner, Track: track}
	entry, ok := p.byOwner[key]
	if !ok {
		return
	}
	delete(p.byOwner, key)
	delete(p.byChannel, entry.channel)
	p.queue = append(p.queue, PublisherOutput[Endpoint]{Kind: PublisherPubStop, Channel: entry.channel})
}

// OnChannelFeedback translates overlay feedback back to the owning
// endpoint. Only KeyFrameRequest is actionable; Bitrate is reserved.
func (p *ChannelPublisher[Endpoint]) OnChannelFeedback(channel identity.ChannelId, kind FeedbackKind) {
	if kind != FeedbackKeyFrameRequest {
		return
	}
	key, ok := p.byChannel[channel]
	if !ok {
		slog.Debug("feedback on unknown channel", slog.Uint64("channel", uint64(channel)))
		return
	}
	p.queue = append(p.queue, PublisherOutput[Endpoint]{Kind: PublisherRequestKeyFrame, Channel: channel, Owner: key.Owner, Track: key.Track})
}

// OnEndpointLeave removes every track owned by endpoint, emitting PubStop
// for each exactly once.
func (p *ChannelPublisher[Endpoint]) OnEndpointLeave(endpoint Endpoint) {
	var tracks []identity.RemoteTrackId
	for key := range p.byOwner {
		if key.Owner == endpoint {
			tracks = append(tracks, key.Track)
		}
	}
	for _, track := range tracks {
		p.OnTrackUnpublish(endpoint, track)
	}
}

// PopOutput drains one queued output, if any.
func (p *ChannelPublisher[Endpoint]) PopOutput() (PublisherOutput[Endpoint], bool) {
	if len(p.queue) == 0 {
		return PublisherOutput[Endpoint]{}, false
	}
	out := p.queue[0]
	p.queue = p.queue[1:]
	return out, true
}

// IsEmpty reports whether the registry holds no published tracks and no
// queued output.
func (p *ChannelPublisher[Endpoint]) IsEmpty() bool {
	return len(p.byOwner) == 0 && len(p.queue) == 0
}
