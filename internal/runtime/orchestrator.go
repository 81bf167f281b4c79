package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/voicetyped/mediafabric/internal/cluster/room"
	"github.com/voicetyped/mediafabric/internal/endpoint"
	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/media/audiomixer"
	"github.com/voicetyped/mediafabric/internal/overlay"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// Orchestrator is the sans-I/O worker runtime's top-level composition
// (spec §4.5, §9 "all mutation goes through the worker's task switcher,
// which owns both" endpoint and room): it owns the room registry and the
// overlay client, drains every hosted Endpoint's ClusterOut queue into the
// room registry and overlay, and relays room/overlay output back to
// endpoints as ClusterEvents, reusing workerpool.WorkerPool for
// bounded-concurrency overlay dispatch.
type Orchestrator struct {
	registry *room.Registry[string]
	overlay  *overlay.Client
	pool     workerpool.WorkerPool

	mu        sync.Mutex
	endpoints map[string]*endpoint.Endpoint
}

// NewOrchestrator creates an orchestrator over a fresh room registry,
// bound to an already-connected overlay client and an optional worker pool
// for bounded-concurrency overlay dispatch (spec DOMAIN STACK:
// frame/workerpool, backed by panjf2000/ants).
func NewOrchestrator(ovl *overlay.Client, pool workerpool.WorkerPool) *Orchestrator {
	return &Orchestrator{
		registry:  room.NewRegistry[string](),
		overlay:   ovl,
		pool:      pool,
		endpoints: make(map[string]*endpoint.Endpoint),
	}
}

// HostEndpoint registers ep under sessionKey so its cluster output is
// drained on every Pump call.
func (o *Orchestrator) HostEndpoint(sessionKey string, ep *endpoint.Endpoint) {
	o.mu.Lock()
	o.endpoints[sessionKey] = ep
	o.mu.Unlock()
}

// UnhostEndpoint removes a closed endpoint, called once endpoint.IsEmpty()
// reports true (spec §4.5 "children that expose OnResourceEmpty upward
// allow the parent to GC them").
func (o *Orchestrator) UnhostEndpoint(sessionKey string) {
	o.mu.Lock()
	delete(o.endpoints, sessionKey)
	o.mu.Unlock()
}

// Pump drains every hosted endpoint's ClusterOut queue, applies each
// command to the room registry and overlay, ticks the room registry's GC,
// and relays overlay/room output back to endpoints as ClusterEvents. Call
// once per worker logical tick.
func (o *Orchestrator) Pump(ctx context.Context, now time.Time) {
	o.mu.Lock()
	keys := make([]string, 0, len(o.endpoints))
	for k := range o.endpoints {
		keys = append(keys, k)
	}
	o.mu.Unlock()

	for _, key := range keys {
		o.mu.Lock()
		ep, ok := o.endpoints[key]
		o.mu.Unlock()
		if !ok {
			continue
		}
		o.drainEndpoint(ctx, key, ep)
	}

	o.registry.Range(func(hash identity.ClusterRoomHash, r *room.Room[string]) {
		o.drainRoom(ctx, now, hash, r)
	})
	if destroyed := o.registry.Tick(now); destroyed > 0 {
		slog.Debug("orchestrator: room gc", slog.Int("destroyed", destroyed))
	}
}

// Registry exposes the room registry, e.g. so a worker can call
// registry.GetOrCreate directly when handling Endpoint.Join.
func (o *Orchestrator) Registry() *room.Registry[string] { return o.registry }

func (o *Orchestrator) drainEndpoint(ctx context.Context, key string, ep *endpoint.Endpoint) {
	hash, joined := ep.RoomHash()
	for {
		out, ok := ep.PopClusterOut()
		if !ok {
			return
		}
		if !joined {
			continue
		}
		r := o.registry.GetOrCreate(hash)
		o.applyClusterOut(ctx, key, r, out)
	}
}

func (o *Orchestrator) applyClusterOut(ctx context.Context, key string, r *room.Room[string], out endpoint.ClusterOut) {
	switch out.Kind {
	case endpoint.ClusterOutJoin:
		// Membership here is local-only (no separate join ack RPC is
		// specified); the room is resolvable as soon as GetOrCreate returns.
		// Nothing here calls MarkJoined, so the endpoint stays Joining.

	case endpoint.ClusterOutRemoteTrackStarted:
		peer := identity.PeerId(key)
		r.Media().OnTrackPublish(key, out.RemoteTrack, peer, identity.TrackName(out.RemoteMeta.Name))
		if out.RemoteMeta.Kind == wire.Audio {
			r.AutoPublisher().OnTrackPublish(peer, out.RemoteTrack, identity.HashPeer(peer))
		}
		o.dispatch(ctx, func() { o.drainPublisherQueue(ctx, r) })

	case endpoint.ClusterOutRemoteTrackMedia:
		r.Media().OnTrackData(key, out.RemoteTrack, out.Packet)
		r.AutoPublisher().OnTrackData(time.Now(), identity.PeerId(key), out.RemoteTrack, out.Packet)
		o.dispatch(ctx, func() { o.drainPublisherQueue(ctx, r) })

	case endpoint.ClusterOutRemoteTrackEnded:
		r.Media().OnTrackUnpublish(key, out.RemoteTrack)
		r.AutoPublisher().OnTrackUnpublish(identity.PeerId(key), out.RemoteTrack)
		o.dispatch(ctx, func() { o.drainPublisherQueue(ctx, r) })

	case endpoint.ClusterOutSubscribe:
		r.MediaSub().OnTrackSubscribe(key, out.LocalTrack, out.Peer, out.Name)
		o.dispatch(ctx, func() { o.drainSubscriberQueue(ctx, r) })

	case endpoint.ClusterOutUnsubscribe:
		r.MediaSub().OnTrackUnsubscribe(key, out.LocalTrack)
		o.dispatch(ctx, func() { o.drainSubscriberQueue(ctx, r) })

	case endpoint.ClusterOutRequestKeyFrame:
		r.MediaSub().OnTrackRequestKey(key, out.LocalTrack)
		o.dispatch(ctx, func() { o.drainSubscriberQueue(ctx, r) })

	case endpoint.ClusterOutMixerEnable:
		r.EnsureMixer(key, out.MixerOutputs)

	case endpoint.ClusterOutMixerAttach:
		r.EnsureMixer(key, nil).Attach(audiomixer.Source{Peer: out.Peer, Name: out.Name})
		o.dispatch(ctx, func() { o.drainMixerQueue(ctx, r) })

	case endpoint.ClusterOutMixerDetach:
		r.EnsureMixer(key, nil).Detach(audiomixer.Source{Peer: out.Peer, Name: out.Name})
		o.dispatch(ctx, func() { o.drainMixerQueue(ctx, r) })

	case endpoint.ClusterOutAutoMixerEnable:
		peer := identity.PeerId(key)
		r.AutoSubscriber().OnEndpointJoin(peer, peer, identity.HashPeer(peer), out.MixerOutputs)
		o.dispatch(ctx, func() { o.drainAutoMixerQueue(ctx, r) })

	case endpoint.ClusterOutLeave:
		r.OnEndpointLeave(key)
		r.AutoMixerLeave(identity.PeerId(key))
	}
}

// dispatch runs fn on the worker pool when available, matching the
// teacher's "submit to pool, fall back to a bare goroutine" pattern in its
// original audio-pipe dispatch.
func (o *Orchestrator) dispatch(ctx context.Context, fn func()) {
	if o.pool != nil {
		if err := o.pool.Submit(ctx, fn); err == nil {
			return
		}
	}
	fn()
}

func (o *Orchestrator) drainPublisherQueue(ctx context.Context, r *room.Room[string]) {
	for {
		out, ok := r.Media().PopOutput()
		if !ok {
			return
		}
		switch out.Kind {
		case room.PublisherPubStart:
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlPubStart})
		case room.PublisherPubStop:
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlPubStop})
		case room.PublisherPubData:
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlPubData, Data: out.Data})
		case room.PublisherRequestKeyFrame:
			if ep := o.lookup(out.Owner); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventRemoteTrackRequestKeyFrame, RemoteTrack: out.Track})
			}
		}
	}
}

func (o *Orchestrator) drainSubscriberQueue(ctx context.Context, r *room.Room[string]) {
	for {
		out, ok := r.MediaSub().PopOutput()
		if !ok {
			return
		}
		switch out.Kind {
		case room.SubscriberSubAuto:
			_ = o.overlay.Subscribe(ctx, out.Channel)
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlSubAuto})
		case room.SubscriberUnsubAuto:
			_ = o.overlay.Unsubscribe(out.Channel)
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlUnsubAuto})
		case room.SubscriberFeedbackAuto:
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlFeedbackAuto, Feedback: overlay.FeedbackPriority{Priority: 1, WindowMs: 150}})
		case room.SubscriberMedia:
			if ep := o.lookup(out.Endpoint); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventLocalTrackMedia, LocalTrack: out.Track, Channel: out.Channel, Packet: out.Pkt})
			}
		case room.SubscriberSourceChanged:
			if ep := o.lookup(out.Endpoint); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventLocalTrackSourceChanged, LocalTrack: out.Track})
			}
		}
	}
}

// drainMixerQueue drains every per-endpoint Manual audio mixer's queued
// output, translating it into overlay control/data frames or a
// ClusterEvent back to the owning endpoint (spec §4.3 "Manual mixer").
func (o *Orchestrator) drainMixerQueue(ctx context.Context, r *room.Room[string]) {
	for {
		owner, out, ok := r.DrainMixerOutput()
		if !ok {
			return
		}
		switch out.Kind {
		case audiomixer.ManualOutputSubAuto:
			_ = o.overlay.Subscribe(ctx, out.Channel)
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlSubAuto})
		case audiomixer.ManualOutputUnsubAuto:
			_ = o.overlay.Unsubscribe(out.Channel)
			_ = o.overlay.Publish(ctx, overlay.Control{Channel: out.Channel, Kind: overlay.ControlUnsubAuto})
		case audiomixer.ManualOutputSourceChanged:
			if ep := o.lookup(owner); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventLocalTrackSourceChanged, LocalTrack: out.Track})
			}
		case audiomixer.ManualOutputSlotSet:
			if ep := o.lookup(owner); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventAudioMixerSlotSet, Slot: out.Slot})
			}
		case audiomixer.ManualOutputSlotUnset:
			if ep := o.lookup(owner); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventAudioMixerSlotUnset, Slot: out.Slot})
			}
		case audiomixer.ManualOutputMedia:
			if ep := o.lookup(owner); ep != nil {
				_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventLocalTrackMedia, LocalTrack: out.Track, Channel: out.Channel, Packet: out.Pkt})
			}
		}
	}
}

// drainAutoMixerQueue drains the room's single Auto-mode publisher and
// subscriber mixer halves (spec §4.3 "Auto mixer").
func (o *Orchestrator) drainAutoMixerQueue(ctx context.Context, r *room.Room[string]) {
	for o.drainAutoPublisherOutput(ctx, r) {
	}
	for o.drainAutoSubscriberOutput(ctx, r) {
	}
}

func (o *Orchestrator) drainAutoPublisherOutput(ctx context.Context, r *room.Room[string]) bool {
	out, ok := r.AutoPublisher().PopOutput()
	if !ok {
		return false
	}
	channel := r.AutoMixerChannel()
	switch out.Kind {
	case audiomixer.AutoPublisherPubStart:
		_ = o.overlay.Publish(ctx, overlay.Control{Channel: channel, Kind: overlay.ControlPubStart})
	case audiomixer.AutoPublisherPubStop:
		_ = o.overlay.Publish(ctx, overlay.Control{Channel: channel, Kind: overlay.ControlPubStop})
	case audiomixer.AutoPublisherPubData:
		_ = o.overlay.Publish(ctx, overlay.Control{Channel: channel, Kind: overlay.ControlPubData, Data: wire.EncodeAudioMixerPkt(out.Data)})
	}
	return true
}

func (o *Orchestrator) drainAutoSubscriberOutput(ctx context.Context, r *room.Room[string]) bool {
	out, ok := r.AutoSubscriber().PopOutput()
	if !ok {
		return false
	}
	channel := r.AutoMixerChannel()
	switch out.Kind {
	case audiomixer.AutoSubscriberSubAuto:
		_ = o.overlay.Subscribe(ctx, channel)
		_ = o.overlay.Publish(ctx, overlay.Control{Channel: channel, Kind: overlay.ControlSubAuto})
	case audiomixer.AutoSubscriberUnsubAuto:
		_ = o.overlay.Unsubscribe(channel)
		_ = o.overlay.Publish(ctx, overlay.Control{Channel: channel, Kind: overlay.ControlUnsubAuto})
	case audiomixer.AutoSubscriberSourceChanged:
		// The peer id doubles as the hosting session key in this
		// one-session-per-peer fabric, matching the key<->peer convention
		// ClusterOutRemoteTrackStarted already relies on above.
		if ep := o.lookup(string(out.Endpoint)); ep != nil {
			_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventLocalTrackSourceChanged, LocalTrack: out.Track})
		}
	case audiomixer.AutoSubscriberMedia:
		if ep := o.lookup(string(out.Endpoint)); ep != nil {
			_ = ep.OnClusterEvent(time.Now(), endpoint.ClusterEvent{Kind: endpoint.ClusterEventLocalTrackMedia, LocalTrack: out.Track, Channel: channel, Packet: out.Pkt})
		}
	}
	return true
}

// drainRoom delivers overlay-sourced media into a room's subscriber
// registry and audio mixers, completing the subscribe path (spec §2 data
// flow: "overlay delivers SourceData → Room Subscriber → per-subscriber
// list") and feeding both the Manual and Auto audio mixer cores (spec §4.3).
func (o *Orchestrator) drainRoom(ctx context.Context, now time.Time, _ identity.ClusterRoomHash, r *room.Room[string]) {
	select {
	case ev, ok := <-o.overlay.Events():
		if ok {
			o.applyOverlayEvent(now, r, ev)
		}
	default:
	}
	o.dispatch(ctx, func() {
		o.drainSubscriberQueue(ctx, r)
		o.drainMixerQueue(ctx, r)
		o.drainAutoMixerQueue(ctx, r)
	})
}

func (o *Orchestrator) applyOverlayEvent(now time.Time, r *room.Room[string], ev overlay.Event) {
	switch ev.Kind {
	case overlay.EventSourceData:
		if ev.Channel == r.AutoMixerChannel() {
			audioPkt, err := wire.DecodeAudioMixerPkt(ev.Data)
			if err != nil {
				slog.Warn("orchestrator: dropping malformed audio mixer packet", slog.String("err", err.Error()))
				return
			}
			r.AutoSubscriber().OnChannelData(now, audioPkt)
			return
		}
		if err := r.MediaSub().OnChannelData(ev.Channel, ev.Data); err != nil {
			slog.Warn("orchestrator: dropping malformed source data", slog.String("err", err.Error()))
			return
		}
		if pkt, err := wire.Decode(ev.Data); err == nil {
			r.DeliverMixerData(now, ev.Channel, pkt)
		}
	case overlay.EventRouteChanged:
		r.MediaSub().OnChannelRelayChanged(ev.Channel)
	}
}

func (o *Orchestrator) lookup(key string) *endpoint.Endpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.endpoints[key]
}
