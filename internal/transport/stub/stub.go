// Package stub implements transport.Transport for the protocols this
// specification names but treats as pluggable (WHIP, WHEP, RTMP, SIP —
// spec §1 "deliberately out of scope": SDP parsing, SIP NG-control
// bencoded protocol, ICE/DTLS internals). Each stub exposes the same
// Event/Out shape the WebRTC adapter does so the endpoint core is wholly
// agnostic to which one it is driving; a production deployment would
// replace the body of Poll/Execute with a real HTTP (WHIP/WHEP), RTMP, or
// diago/SIP client.
package stub

import (
	"sync"
	"time"

	"github.com/voicetyped/mediafabric/internal/transport"
)

// Protocol names one of the non-WebRTC transports this fabric accepts.
type Protocol int

const (
	ProtocolWHIP Protocol = iota
	ProtocolWHEP
	ProtocolRTMP
	ProtocolSIP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolWHIP:
		return "whip"
	case ProtocolWHEP:
		return "whep"
	case ProtocolRTMP:
		return "rtmp"
	case ProtocolSIP:
		return "sip"
	default:
		return "unknown"
	}
}

// Transport is a minimal event-queue transport for protocols this fabric
// declares pluggable rather than implements. Ingest call sites for the
// concrete protocol push Events with Push; the endpoint core drains them
// exactly as it would a webrtc.Transport.
type Transport struct {
	mu       sync.Mutex
	protocol Protocol
	uri      string
	events   []transport.Event
	closed   bool
}

// New creates a stub transport for the given protocol and connection URI
// (a SIP URI, RTMP ingest URL, or WHIP/WHEP resource URL).
func New(protocol Protocol, uri string) *Transport {
	return &Transport{protocol: protocol, uri: uri}
}

// Protocol reports which pluggable protocol this stub represents.
func (t *Transport) Protocol() Protocol { return t.protocol }

// URI returns the connection URI the stub was created with.
func (t *Transport) URI() string { return t.uri }

// Push enqueues an Event for the endpoint core to observe on its next
// Poll, the integration point a concrete protocol driver calls from its
// own read loop (mirroring webrtc.Transport.onTrack/onConnectionState).
func (t *Transport) Push(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
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

// Execute implements transport.Transport. A real driver would translate
// Out commands into protocol-specific writes (an RTP write for RTMP, a SIP
// re-INVITE for a keyframe-equivalent, etc); the stub accepts and discards
// every command without recording it, since no wire format is specified
// here (spec §1's explicit out-of-scope list).
func (t *Transport) Execute(time.Time, transport.Out) error {
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
