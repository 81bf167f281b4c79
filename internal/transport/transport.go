// Package transport defines the uniform event set every client transport
// (WebRTC, WHIP, WHEP, RTMP, SIP) is translated into before it reaches the
// endpoint session core (spec §6 "Transport (consumed)", §9 design note:
// "treated as a pluggable transport"). The endpoint core only ever sees
// transport.Event values; it never imports pion or any other transport SDK
// directly, keeping the concrete pion adapter separate from the room/
// session logic that drives it.
package transport

import (
	"time"

	"github.com/voicetyped/mediafabric/internal/wire"
)

// Kind classifies a remote/local track as audio or video, reusing wire.MediaKind.
type Kind = wire.MediaKind

// EventKind tags which arm of Event is populated.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventIceState
	EventRemoteTrackStarted
	EventRemoteTrackMedia
	EventRemoteTrackEnded
	EventLocalTrackAttached
	EventLocalTrackReady
	EventKeyframeRequest
	EventEgressEstimate
	EventRpcReq
)

// IceState mirrors the subset of ICE connection states the endpoint core
// reacts to (spec §6 "IceConnectionStateChange(state)").
type IceState int

const (
	IceNew IceState = iota
	IceChecking
	IceConnected
	IceDisconnected
	IceFailed
	IceClosed
)

// RemoteTrackMeta describes a track as it starts, mirroring spec §3's
// RemoteTrack "meta (codec, scaling)" attribute.
type RemoteTrackMeta struct {
	Name    string
	Kind    Kind
	Codec   string
	Scaling Scaling
}

// Scaling enumerates how a remote track's layers are organized (spec §3).
type Scaling int

const (
	ScalingNone Scaling = iota
	ScalingSimulcast
	ScalingSVC
)

// RpcRequest is a transport-surfaced session RPC (spec §6 "RPC surface"):
// a whip/whep/webrtc_connect/*_remote_ice/webrtc_restart_ice/*_close call
// the transport received and is forwarding to the endpoint for handling.
type RpcRequest struct {
	ID     uint64
	Method string
	Body   []byte
}

// Event is one transport-level occurrence, translated into the endpoint's
// uniform input (spec §4.1 "on_transport_event(now, ev)").
type Event struct {
	Kind EventKind
	Now  time.Time

	IceState IceState

	RemoteTrackID   uint16
	RemoteTrackMeta RemoteTrackMeta
	Packet          wire.MediaPacket

	LocalTrackID uint16

	KeyframeTrackID uint16

	EgressEstimateBps uint64

	Rpc RpcRequest
}

// OutKind tags which arm of an Out command the transport must act on.
type OutKind int

const (
	OutSendMedia OutKind = iota
	OutRequestKeyFrame
	OutSetEgressBitrate
	OutSetIngressBitrate
	OutSetBweConfig
	OutRpcResponse
	OutClose
)

// RpcResponse is the transport-facing half of the RPC surface (spec §6):
// {status:false, error:CODE} on failure, opaque body on success (spec §7).
type RpcResponse struct {
	ID      uint64
	Status  bool
	Code    string
	Message string
	Body    []byte
}

// Out is a command the endpoint core emits for the transport to execute.
type Out struct {
	Kind OutKind

	LocalTrackID uint16
	Packet       wire.MediaPacket

	RemoteTrackID uint16

	EgressBps  uint64
	IngressBps uint64

	BweCurrent uint64
	BweDesired uint64

	Rpc RpcResponse
}

// Transport is the pluggable per-session client connection every Endpoint
// wraps (spec §1 "treated as a pluggable transport"). Implementations
// translate a concrete protocol (WebRTC via pion, WHIP/WHEP over HTTP,
// RTMP, SIP) into Event values and execute Out commands; they never see
// room or cluster state.
type Transport interface {
	// Poll drains at most one pending Event; ok is false once idle.
	Poll(now time.Time) (Event, bool)
	// Execute applies an Out command (send media, request keyframe, etc).
	Execute(now time.Time, out Out) error
	// Close tears down the underlying connection.
	Close() error
}
