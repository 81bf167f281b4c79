// Package webrtc adapts a pion/webrtc PeerConnection to the fabric's
// transport.Transport interface (spec §6, §9 "Transport-to-core Adapter").
// The PeerConnection wiring, down-track creation, and PLI-on-layer-switch
// behavior follow the usual pion SFU shape, but media no longer flows
// through a goroutine-per-subscription forwarder with its own
// quality-switch logic — RTP read loops only translate packets into
// wire.MediaPacket and enqueue transport.Event{EventRemoteTrackMedia}; all
// layer targeting and seq/ts continuity is the packet selector's job
// (spec §4.4), not the transport's.
package webrtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/xid"

	"github.com/voicetyped/mediafabric/internal/transport"
	"github.com/voicetyped/mediafabric/internal/wire"
)

// EncryptionInfo carries E2EE metadata for a track or peer. The transport
// never encrypts/decrypts media itself; this is passed through for
// signaling only.
type EncryptionInfo struct {
	Algorithm string
	KeyID     uint32
	SenderKey []byte
}

// ValidateE2EERoom checks a peer's encryption info against a room's E2EE
// requirement, ported from sfu.ValidateE2EERoom.
func ValidateE2EERoom(roomRequired bool, peerEnc *EncryptionInfo) error {
	if roomRequired && peerEnc == nil {
		return fmt.Errorf("room requires E2EE but peer has no encryption info")
	}
	if roomRequired && peerEnc.Algorithm == "" {
		return fmt.Errorf("room requires E2EE but peer has no encryption algorithm")
	}
	return nil
}

// remoteTrack tracks one inbound pion track plus the local-track-id it was
// assigned for wire.MediaPacket.Meta decoding.
type remoteTrack struct {
	id      uint16
	track   *webrtc.TrackRemote
	kind    wire.MediaKind
	simRID  string
	started bool
}

// localTrack wraps a down-track this transport writes rewritten media to.
type localTrack struct {
	id    uint16
	local *webrtc.TrackLocalStaticRTP
	muted bool
}

// Transport adapts one pion PeerConnection to transport.Transport.
type Transport struct {
	mu     sync.Mutex
	id     string
	pc     *webrtc.PeerConnection
	events []transport.Event

	remote    map[uint16]*remoteTrack
	local     map[uint16]*localTrack
	nextLocal uint16
	nextRem   uint16

	keyframeDebounce map[uint16]time.Time
}

// New wraps an existing pion PeerConnection (already negotiated by the
// WHIP/WHEP/webrtc_connect RPC handler, which owns SDP offer/answer and ICE
// gathering — both explicitly out of scope per spec §1) and wires its
// callbacks to enqueue transport.Events.
func New(id string, pc *webrtc.PeerConnection) *Transport {
	if id == "" {
		id = xid.New().String()
	}
	t := &Transport{
		id:               id,
		pc:               pc,
		remote:           make(map[uint16]*remoteTrack),
		local:            make(map[uint16]*localTrack),
		keyframeDebounce: make(map[uint16]time.Time),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.onTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.onConnectionState(state)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.onIceState(state)
	})

	return t
}

func (t *Transport) onConnectionState(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch state {
	case webrtc.PeerConnectionStateConnected:
		t.events = append(t.events, transport.Event{Kind: transport.EventConnected, Now: time.Now()})
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		t.events = append(t.events, transport.Event{Kind: transport.EventDisconnected, Now: time.Now()})
	}
}

func (t *Transport) onIceState(state webrtc.ICEConnectionState) {
	var mapped transport.IceState
	switch state {
	case webrtc.ICEConnectionStateNew:
		mapped = transport.IceNew
	case webrtc.ICEConnectionStateChecking:
		mapped = transport.IceChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		mapped = transport.IceConnected
	case webrtc.ICEConnectionStateDisconnected:
		mapped = transport.IceDisconnected
	case webrtc.ICEConnectionStateFailed:
		mapped = transport.IceFailed
	case webrtc.ICEConnectionStateClosed:
		mapped = transport.IceClosed
	}
	t.mu.Lock()
	t.events = append(t.events, transport.Event{Kind: transport.EventIceState, Now: time.Now(), IceState: mapped})
	t.mu.Unlock()
}

func (t *Transport) onTrack(track *webrtc.TrackRemote) {
	kind := wire.Audio
	scaling := transport.ScalingNone
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = wire.Video
	}
	rid := track.RID()
	if rid != "" {
		scaling = transport.ScalingSimulcast
	}

	t.mu.Lock()
	id := t.nextRem
	t.nextRem++
	t.remote[id] = &remoteTrack{id: id, track: track, kind: kind, simRID: rid}
	t.events = append(t.events, transport.Event{
		Kind: transport.EventRemoteTrackStarted,
		Now:  time.Now(),
		RemoteTrackID: id,
		RemoteTrackMeta: transport.RemoteTrackMeta{
			Name:    track.ID(),
			Kind:    kind,
			Codec:   track.Codec().MimeType,
			Scaling: scaling,
		},
	})
	t.mu.Unlock()

	go t.readLoop(id, track)
}

// readLoop reads raw RTP from one pion remote track and enqueues
// EventRemoteTrackMedia with a decoded wire.MediaPacket. No layer filtering
// or seq/ts rewrite happens here; that is the endpoint's packet selector's
// job once the packet reaches a subscriber's local track.
func (t *Transport) readLoop(id uint16, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			t.mu.Lock()
			delete(t.remote, id)
			t.events = append(t.events, transport.Event{Kind: transport.EventRemoteTrackEnded, Now: time.Now(), RemoteTrackID: id})
			t.mu.Unlock()
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Warn("webrtc transport: dropping unparsable rtp packet", slog.String("track", track.ID()), slog.String("err", err.Error()))
			continue
		}

		meta := metaForCodec(track.Codec().MimeType, pkt.Payload)
		t.mu.Lock()
		rt := t.remote[id]
		t.mu.Unlock()
		if rt != nil && rt.simRID != "" {
			meta.Sim = &wire.Simulcast{Layer: simLayer(rt.simRID)}
		}

		data := append([]byte(nil), pkt.Payload...)
		mp := wire.MediaPacket{
			Seq:      pkt.SequenceNumber,
			Ts:       pkt.Timestamp,
			Marker:   pkt.Marker,
			Nackable: track.Kind() == webrtc.RTPCodecTypeVideo,
			Meta:     meta,
			Data:     data,
		}

		t.mu.Lock()
		t.events = append(t.events, transport.Event{Kind: transport.EventRemoteTrackMedia, Now: time.Now(), RemoteTrackID: id, Packet: mp})
		t.mu.Unlock()
	}
}

func simLayer(rid string) int {
	switch rid {
	case "q":
		return 0
	case "h":
		return 1
	case "f":
		return 2
	default:
		return 0
	}
}

// metaForCodec extracts a best-effort wire.MediaMeta from the raw payload.
// Detailed VP8/VP9/H264 key-frame and SVC-layer parsing is delegated to the
// pion/rtp codec leaf libraries at the call site that owns the depacketizer;
// here we only tag the codec family so the packet selector can pick its
// variant (spec §1 "RTP/codec parsers ... are consumed as leaf libraries").
func metaForCodec(mime string, payload []byte) wire.MediaMeta {
	switch mime {
	case webrtc.MimeTypeOpus:
		level := int8(0)
		if len(payload) > 0 {
			level = int8(payload[0])
		}
		return wire.MediaMeta{Kind: wire.MetaOpus, AudioLevel: level}
	case webrtc.MimeTypeVP8:
		return wire.MediaMeta{Kind: wire.MetaVP8, Key: isVP8Keyframe(payload)}
	case webrtc.MimeTypeVP9:
		return wire.MediaMeta{Kind: wire.MetaVP9, Key: isVP9Keyframe(payload)}
	case webrtc.MimeTypeH264:
		return wire.MediaMeta{Kind: wire.MetaH264, Key: isH264Keyframe(payload)}
	default:
		return wire.MediaMeta{Kind: wire.MetaVP8}
	}
}

func isVP8Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0]&0x01 == 0
}

func isVP9Keyframe(payload []byte) bool {
	return len(payload) > 0 && payload[0]&0x40 == 0
}

func isH264Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	nalType := payload[0] & 0x1F
	return nalType == 5 || nalType == 7
}

// AttachLocalTrack adds a new outbound track (spec §6 LocalTrackAttached)
// and returns its local id, matching sfu.NewDownTrack's codec-mirroring
// behavior for single-layer tracks.
func (t *Transport) AttachLocalTrack(kind wire.MediaKind, codec webrtc.RTPCodecCapability, streamID string) (uint16, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(codec, xid.New().String(), streamID)
	if err != nil {
		return 0, fmt.Errorf("webrtc transport: attach local track: %w", err)
	}
	if _, err := t.pc.AddTrack(local); err != nil {
		return 0, fmt.Errorf("webrtc transport: add track to peer connection: %w", err)
	}

	t.mu.Lock()
	id := t.nextLocal
	t.nextLocal++
	t.local[id] = &localTrack{id: id, local: local}
	t.events = append(t.events, transport.Event{
		Kind: transport.EventLocalTrackAttached, Now: time.Now(), LocalTrackID: id,
		RemoteTrackMeta: transport.RemoteTrackMeta{Kind: kind},
	})
	t.mu.Unlock()
	return id, nil
}

// Push enqueues an Event for the next Poll, the same injection point
// stub.Transport exposes — used by internal/rpc to deliver EventRpcReq for
// webrtc_connect/webrtc_remote_ice/webrtc_restart_ice/webrtc_close once SDP
// and ICE handling (explicitly out of scope per spec §1) have produced one.
func (t *Transport) Push(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

// Poll implements transport.Transport.
func (t *Transport) Poll(time.Time) (transport.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) == 0 {
		return transport.Event{}, false
	}
	ev := t.events[0]
	t.events = t.events[1:]
	return ev, true
}

// Execute implements transport.Transport.
func (t *Transport) Execute(now time.Time, out transport.Out) error {
	switch out.Kind {
	case transport.OutSendMedia:
		t.mu.Lock()
		lt, ok := t.local[out.LocalTrackID]
		t.mu.Unlock()
		if !ok || lt.muted {
			return nil
		}
		return t.writeRTP(lt, out.Packet)

	case transport.OutRequestKeyFrame:
		t.mu.Lock()
		last, sent := t.keyframeDebounce[out.RemoteTrackID]
		if sent && now.Sub(last) < 500*time.Millisecond {
			t.mu.Unlock()
			return nil
		}
		t.keyframeDebounce[out.RemoteTrackID] = now
		rt := t.remote[out.RemoteTrackID]
		t.mu.Unlock()
		if rt == nil {
			return nil
		}
		return t.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(rt.track.SSRC())}})

	case transport.OutSetEgressBitrate, transport.OutSetIngressBitrate, transport.OutSetBweConfig:
		// REMB/TWCC-style bitrate hints, including the warm-up clamp's
		// (current, desired) config, are applied at the estimator layer
		// pion's interceptor chain owns; the transport has no per-track RTP
		// knob to push beyond what the packet selector already enforces via
		// layer selection (spec §4.4).
		return nil

	case transport.OutClose:
		return t.Close()

	default:
		return nil
	}
}

// writeRTP re-marshals a rewritten wire.MediaPacket back into RTP and
// writes it to the matching down-track, the non-decode "pure forwarding"
// path ported from sfu.Forward/DownTrack.Write.
func (t *Transport) writeRTP(lt *localTrack, pkt wire.MediaPacket) error {
	out := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         pkt.Marker,
			SequenceNumber: pkt.Seq,
			Timestamp:      pkt.Ts,
		},
		Payload: pkt.Data,
	}
	raw, err := out.Marshal()
	if err != nil {
		return fmt.Errorf("webrtc transport: marshal rtp: %w", err)
	}
	_, err = lt.local.Write(raw)
	return err
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	return t.pc.Close()
}
