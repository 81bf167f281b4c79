// Package endpoint implements the Endpoint Session Core (spec §4.1): the
// per-session state machine that owns one client transport, tracks local
// and remote media tracks, runs the egress/ingress bitrate allocators and
// per-local-track packet selectors, and bridges transport events to
// cluster (room) controls, generalized from a single pion-specific peer
// into a transport-agnostic session, per spec §9's "back-references from
// track to endpoint use keys, not handles" and "endpoints hold only the
// ClusterRoomHash; rooms hold (endpoint_key, track_id) tuples" — Endpoint
// never imports internal/cluster/room; the worker mediates between the two
// via ClusterOut/ClusterEvent.
package endpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/voicetyped/mediafabric/internal/errs"
	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/media/bitrate"
	"github.com/voicetyped/mediafabric/internal/media/selector"
	"github.com/voicetyped/mediafabric/internal/telemetry"
	"github.com/voicetyped/mediafabric/internal/transport"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// State is the session lifecycle from spec §3: "New→Joining→Joined→Leaving→Closed".
type State int

const (
	StateNew State = iota
	StateJoining
	StateJoined
	StateLeaving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// remoteTrack is spec §3's RemoteTrack entity.
type remoteTrack struct {
	id       identity.RemoteTrackId
	name     identity.TrackName
	kind     wire.MediaKind
	scaling  transport.Scaling
	priority uint32
	started  bool
}

// localTrack is spec §3's LocalTrack entity.
type localTrack struct {
	id           identity.LocalTrackId
	kind         wire.MediaKind
	subscribedTo *room0 // nil until Switch() targets a (peer, track)
	sel          *selector.PacketSelector
	priority     uint32
}

// room0 names the subscribed source, kept endpoint-local (spec §9: endpoint
// never holds a room pointer, only the (peer, name) it asked to subscribe to).
type room0 struct {
	peer identity.PeerId
	name identity.TrackName
}

// ClusterOutKind tags a command the worker must relay to the owning Room.
type ClusterOutKind int

const (
	ClusterOutRemoteTrackStarted ClusterOutKind = iota
	ClusterOutRemoteTrackMedia
	ClusterOutRemoteTrackEnded
	ClusterOutSubscribe
	ClusterOutUnsubscribe
	ClusterOutRequestKeyFrame
	ClusterOutJoin
	ClusterOutLeave
	ClusterOutMixerEnable
	ClusterOutMixerAttach
	ClusterOutMixerDetach
	ClusterOutAutoMixerEnable
)

// ClusterOut is one command the Endpoint emits for the hosting worker to
// apply against the room registry (spec §9 "all mutation goes through the
// worker's task switcher, which owns both").
type ClusterOut struct {
	Kind ClusterOutKind

	RemoteTrack identity.RemoteTrackId
	RemoteMeta  transport.RemoteTrackMeta
	Packet      wire.MediaPacket

	LocalTrack identity.LocalTrackId
	Peer       identity.PeerId
	Name       identity.TrackName

	MixerOutputs []identity.LocalTrackId
}

// ClusterEventKind tags one arm of ClusterEvent, mirroring spec §4.1's
// `on_cluster_event` contract.
type ClusterEventKind int

const (
	ClusterEventLocalTrackSourceChanged ClusterEventKind = iota
	ClusterEventLocalTrackMedia
	ClusterEventRemoteTrackRequestKeyFrame
	ClusterEventAudioMixerSlotSet
	ClusterEventAudioMixerSlotUnset
)

// ClusterEvent is an event delivered from the room back to this endpoint.
type ClusterEvent struct {
	Kind ClusterEventKind

	LocalTrack identity.LocalTrackId
	Channel    identity.ChannelId
	Packet     wire.MediaPacket

	RemoteTrack identity.RemoteTrackId

	Slot int
}

// Endpoint is the fabric's per-session object (spec §4.1).
type Endpoint struct {
	conn  identity.ClusterConnId
	peer  identity.PeerId
	state State

	roomHash *identity.ClusterRoomHash

	transport transport.Transport

	remoteTracks map[identity.RemoteTrackId]*remoteTrack
	localTracks  map[identity.LocalTrackId]*localTrack
	nextLocal    identity.LocalTrackId

	egress  *bitrate.EgressAllocator
	ingress *bitrate.IngressAllocator
	bwe     *bitrate.BweState

	clusterOut []ClusterOut
}

// New creates an Endpoint in state New, wrapping t and identified by conn.
func New(conn identity.ClusterConnId, peer identity.PeerId, t transport.Transport, egressCapBps, ingressCapBps uint64) *Endpoint {
	return &Endpoint{
		conn:         conn,
		peer:         peer,
		state:        StateNew,
		transport:    t,
		remoteTracks: make(map[identity.RemoteTrackId]*remoteTrack),
		localTracks:  make(map[identity.LocalTrackId]*localTrack),
		egress:       bitrate.NewEgressAllocator(egressCapBps),
		ingress:      bitrate.NewIngressAllocator(ingressCapBps),
		bwe:          bitrate.NewBweState(),
	}
}

// Join publishes the endpoint's peer identity to the given room hash (spec
// §4.1 "Joining protocol"). The worker relays ClusterOutJoin to the room
// registry; Joined is only entered once the overlay/room registry
// confirms membership via MarkJoined.
func (e *Endpoint) Join(hash identity.ClusterRoomHash) {
	if e.state != StateNew {
		return
	}
	e.roomHash = &hash
	e.state = StateJoining
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutJoin})
}

// MarkJoined transitions Joining->Joined once the overlay confirms
// membership (spec §4.1 "Joined is acknowledged when the overlay confirms
// membership").
func (e *Endpoint) MarkJoined() {
	if e.state == StateJoining {
		e.state = StateJoined
	}
}

// State reports the current lifecycle state.
func (e *Endpoint) State() State { return e.state }

// RoomHash reports the room this endpoint joined, if any.
func (e *Endpoint) RoomHash() (identity.ClusterRoomHash, bool) {
	if e.roomHash == nil {
		return 0, false
	}
	return *e.roomHash, true
}

// Peer reports the endpoint's peer identity.
func (e *Endpoint) Peer() identity.PeerId { return e.peer }

// ConnId reports the endpoint's cluster connection id.
func (e *Endpoint) ConnId() identity.ClusterConnId { return e.conn }

// OnTransportEvent implements spec §4.1's `on_transport_event(now, ev)`.
func (e *Endpoint) OnTransportEvent(now time.Time, ev transport.Event) error {
	switch ev.Kind {
	case transport.EventConnected:
		slog.Debug("endpoint: transport connected", slog.String("conn", e.conn.String()))

	case transport.EventDisconnected:
		e.state = StateLeaving
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutLeave})

	case transport.EventIceState:
		if ev.IceState == transport.IceFailed {
			return errs.New(errs.ConnectionClosed, "ice failed")
		}

	case transport.EventRemoteTrackStarted:
		rt := &remoteTrack{
			id:      identity.RemoteTrackId(ev.RemoteTrackID),
			name:    identity.TrackName(ev.RemoteTrackMeta.Name),
			kind:    ev.RemoteTrackMeta.Kind,
			scaling: ev.RemoteTrackMeta.Scaling,
		}
		e.remoteTracks[rt.id] = rt
		if rt.kind.IsVideo() {
			e.ingress.SetVideoTrack(rt.id, 1)
		}
		e.emitRemoteTrackStart(rt, ev.RemoteTrackMeta)

	case transport.EventRemoteTrackMedia:
		rt, ok := e.remoteTracks[identity.RemoteTrackId(ev.RemoteTrackID)]
		if !ok {
			// First media arrived before an explicit "started" event; start it
			// implicitly per spec §4.1 "On first media or RemoteTrackStarted".
			rt = &remoteTrack{id: identity.RemoteTrackId(ev.RemoteTrackID), kind: metaKind(ev.Packet)}
			e.remoteTracks[rt.id] = rt
			e.emitRemoteTrackStart(rt, transport.RemoteTrackMeta{Kind: rt.kind})
		}
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutRemoteTrackMedia, RemoteTrack: rt.id, Packet: ev.Packet})

	case transport.EventRemoteTrackEnded:
		rt, ok := e.remoteTracks[identity.RemoteTrackId(ev.RemoteTrackID)]
		if !ok {
			return nil
		}
		delete(e.remoteTracks, rt.id)
		e.ingress.DelVideoTrack(rt.id)
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutRemoteTrackEnded, RemoteTrack: rt.id})

	case transport.EventLocalTrackAttached:
		if lt, ok := e.localTracks[identity.LocalTrackId(ev.LocalTrackID)]; ok {
			lt.kind = ev.RemoteTrackMeta.Kind
			lt.sel = selector.New(lt.kind)
		}

	case transport.EventLocalTrackReady:
		// No-op: the local track is already usable via Switch/Subscribe.

	case transport.EventKeyframeRequest:
		e.OnLocalTrackRequestKeyFrame(identity.LocalTrackId(ev.KeyframeTrackID))

	case transport.EventEgressEstimate:
		e.egress.SetEstimate(e.bwe.FilterBwe(ev.EgressEstimateBps))

	case transport.EventRpcReq:
		slog.Debug("endpoint: rpc request observed on transport event stream", slog.String("method", ev.Rpc.Method))
	}
	return nil
}

func metaKind(pkt wire.MediaPacket) wire.MediaKind {
	if pkt.Meta.Kind == wire.MetaOpus {
		return wire.Audio
	}
	return wire.Video
}

func (e *Endpoint) emitRemoteTrackStart(rt *remoteTrack, meta transport.RemoteTrackMeta) {
	rt.started = true
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutRemoteTrackStarted, RemoteTrack: rt.id, RemoteMeta: meta})
}

// AttachLocalTrack registers a new local (subscriber-facing) track, per
// spec §3 LocalTrack lifecycle ("Created when endpoint binds a receiver").
// Audio tracks get no packet selector work beyond continuity (spec §4.4
// "Audio: no selector").
func (e *Endpoint) AttachLocalTrack(kind wire.MediaKind, priority uint32) identity.LocalTrackId {
	id := e.nextLocal
	e.nextLocal++
	e.localTracks[id] = &localTrack{id: id, kind: kind, priority: priority, sel: selector.New(kind)}
	if kind.IsVideo() {
		e.egress.SetVideoTrack(id, priority)
	}
	return id
}

// EnableAudioMixer allocates slotCount local audio tracks as this endpoint's
// Manual audio-mixer output slots and asks the room to create the mixer
// (spec §4.3 "Manual mixer (per-subscriber)").
func (e *Endpoint) EnableAudioMixer(slotCount int) []identity.LocalTrackId {
	outputs := make([]identity.LocalTrackId, slotCount)
	for i := range outputs {
		outputs[i] = e.AttachLocalTrack(wire.Audio, 0)
	}
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutMixerEnable, MixerOutputs: outputs})
	return outputs
}

// MixerAttachSource asks the room's Manual mixer to consider (peer, name) a
// mix candidate.
func (e *Endpoint) MixerAttachSource(peer identity.PeerId, name identity.TrackName) {
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutMixerAttach, Peer: peer, Name: name})
}

// MixerDetachSource removes (peer, name) from the Manual mixer's candidate set.
func (e *Endpoint) MixerDetachSource(peer identity.PeerId, name identity.TrackName) {
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutMixerDetach, Peer: peer, Name: name})
}

// EnableAutoAudioMixer allocates slotCount local audio tracks as this
// endpoint's Auto-mode audio-mixer output slots and subscribes it to the
// room's pre-mixed stream (spec §4.3 "Auto mixer").
func (e *Endpoint) EnableAutoAudioMixer(slotCount int) []identity.LocalTrackId {
	outputs := make([]identity.LocalTrackId, slotCount)
	for i := range outputs {
		outputs[i] = e.AttachLocalTrack(wire.Audio, 0)
	}
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutAutoMixerEnable, MixerOutputs: outputs})
	return outputs
}

// Switch subscribes local to a new (peer, name) source, or only unsubscribes
// it from its current source when hasSource is false. The worker relays the corresponding ClusterOutSubscribe/
// Unsubscribe to the room's ChannelSubscriber.
func (e *Endpoint) Switch(local identity.LocalTrackId, peer identity.PeerId, name identity.TrackName, hasSource bool) error {
	lt, ok := e.localTracks[local]
	if !ok {
		return errs.New(errs.NotFound, "unknown local track")
	}
	if e.state != StateJoined && e.state != StateJoining {
		return errs.New(errs.PreconditionFailed, "switch while not in room")
	}
	if lt.subscribedTo != nil {
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutUnsubscribe, LocalTrack: local})
		lt.subscribedTo = nil
	}
	if hasSource {
		lt.subscribedTo = &room0{peer: peer, name: name}
		lt.sel.Reset()
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutSubscribe, LocalTrack: local, Peer: peer, Name: name})
	}
	return nil
}

// UnsubscribeLocalTrack removes the local track entirely, e.g. on renegotiation.
func (e *Endpoint) UnsubscribeLocalTrack(local identity.LocalTrackId) {
	lt, ok := e.localTracks[local]
	if !ok {
		return
	}
	if lt.subscribedTo != nil {
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutUnsubscribe, LocalTrack: local})
	}
	delete(e.localTracks, local)
	e.egress.DelVideoTrack(local)
}

// OnLocalTrackRequestKeyFrame handles a transport-originated keyframe
// request for a subscribed local track (spec §4.2.2 on_track_request_key).
func (e *Endpoint) OnLocalTrackRequestKeyFrame(local identity.LocalTrackId) {
	if lt, ok := e.localTracks[local]; ok && lt.subscribedTo != nil {
		e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutRequestKeyFrame, LocalTrack: local})
	}
}

// OnClusterEvent implements spec §4.1's `on_cluster_event(now, ev)`.
func (e *Endpoint) OnClusterEvent(now time.Time, ev ClusterEvent) error {
	switch ev.Kind {
	case ClusterEventLocalTrackSourceChanged:
		if lt, ok := e.localTracks[ev.LocalTrack]; ok {
			lt.sel.Reset()
		}

	case ClusterEventLocalTrackMedia:
		lt, ok := e.localTracks[ev.LocalTrack]
		if !ok {
			return nil
		}
		pkt := ev.Packet
		nowMs := uint64(now.UnixMilli())
		if !lt.sel.Select(nowMs, uint64(ev.Channel), &pkt) {
			telemetry.RecordSelectorDrop(context.Background(), "layer_not_selected")
			return nil
		}
		if lt.kind.IsVideo() {
			e.bwe.OnSendVideo(now)
		}
		return e.transport.Execute(now, transport.Out{Kind: transport.OutSendMedia, LocalTrackID: uint16(ev.LocalTrack), Packet: pkt})

	case ClusterEventRemoteTrackRequestKeyFrame:
		return e.transport.Execute(now, transport.Out{Kind: transport.OutRequestKeyFrame, RemoteTrackID: uint16(ev.RemoteTrack)})

	case ClusterEventAudioMixerSlotSet:
		telemetry.RecordMixerSlotChurn(context.Background(), "set")
		slog.Debug("endpoint: audio mixer slot event", slog.Int("slot", ev.Slot))

	case ClusterEventAudioMixerSlotUnset:
		telemetry.RecordMixerSlotChurn(context.Background(), "unset")
		slog.Debug("endpoint: audio mixer slot event", slog.Int("slot", ev.Slot))
	}
	return nil
}

// OnTick drives the BWE state machine, both allocators, and every local
// track's packet-selector tick (spec §4.1 "on_tick(now)").
func (e *Endpoint) OnTick(now time.Time) {
	if bps, reset := e.bwe.OnTick(now); reset {
		e.egress.SetEstimate(bps)
	}
	e.egress.OnTick()
	e.ingress.OnTick()

	nowMs := uint64(now.UnixMilli())
	for _, lt := range e.localTracks {
		lt.sel.OnTick(nowMs)
	}

	for {
		out, ok := e.egress.PopOutput()
		if !ok {
			break
		}
		if out.IsBweConfig {
			current, desired := e.bwe.FilterBweConfig(out.BweCurrent, out.BweDesired)
			telemetry.RecordAllocatorDecision(context.Background(), "egress_bwe_config")
			_ = e.transport.Execute(now, transport.Out{Kind: transport.OutSetBweConfig, BweCurrent: current, BweDesired: desired})
			continue
		}
		telemetry.RecordAllocatorDecision(context.Background(), "egress")
		_ = e.transport.Execute(now, transport.Out{Kind: transport.OutSetEgressBitrate, LocalTrackID: uint16(*out.Track), EgressBps: out.Action.SetBps})
	}
	for {
		out, ok := e.ingress.PopOutput()
		if !ok {
			break
		}
		telemetry.RecordAllocatorDecision(context.Background(), "ingress")
		_ = e.transport.Execute(now, transport.Out{Kind: transport.OutSetIngressBitrate, RemoteTrackID: uint16(out.Track), IngressBps: out.SetBps})
	}
	for _, lt := range e.localTracks {
		for {
			act, ok := lt.sel.PopOutput(nowMs)
			if !ok {
				break
			}
			if act.Kind == selector.ActionRequestKeyFrame {
				e.OnLocalTrackRequestKeyFrame(lt.id)
			}
		}
	}
}

// PopClusterOut drains one queued command for the worker to relay to the room.
func (e *Endpoint) PopClusterOut() (ClusterOut, bool) {
	if len(e.clusterOut) == 0 {
		return ClusterOut{}, false
	}
	out := e.clusterOut[0]
	e.clusterOut = e.clusterOut[1:]
	return out, true
}

// Close transitions to Closed and tears down the transport, cascading
// PubStop/UnsubAuto for every held track via the worker's leave handling
// (spec §8 scenario 6).
func (e *Endpoint) Close() error {
	if e.state == StateClosed {
		return nil
	}
	e.state = StateClosed
	e.clusterOut = append(e.clusterOut, ClusterOut{Kind: ClusterOutLeave})
	return e.transport.Close()
}

// IsEmpty reports whether the endpoint has no queued cluster output left to
// drain, used by the worker to decide when it is safe to unhost a Closed
// endpoint's branch.
func (e *Endpoint) IsEmpty() bool {
	return e.state == StateClosed && len(e.clusterOut) == 0
}
