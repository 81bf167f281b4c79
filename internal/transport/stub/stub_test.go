package stub

import (
	"testing"
	"time"

	"github.com/voicetyped/mediafabric/internal/transport"
)

func TestTransportPushPoll(t *testing.T) {
	tr := New(ProtocolWHIP, "https://example.invalid/whip/session-1")
	if tr.Protocol() != ProtocolWHIP {
		t.Fatalf("Protocol() = %v, want ProtocolWHIP", tr.Protocol())
	}
	if tr.URI() == "" {
		t.Fatalf("URI() is empty")
	}

	if _, ok := tr.Poll(time.Now()); ok {
		t.Fatalf("Poll() on an empty stub should report ok=false")
	}

	tr.Push(transport.Event{Kind: transport.EventConnected})
	ev, ok := tr.Poll(time.Now())
	if !ok || ev.Kind != transport.EventConnected {
		t.Fatalf("Poll() = %+v, %v, want EventConnected, true", ev, ok)
	}
	if _, ok := tr.Poll(time.Now()); ok {
		t.Fatalf("Poll() should drain exactly one event")
	}
}

func TestTransportCloseDropsFutureEvents(t *testing.T) {
	tr := New(ProtocolRTMP, "rtmp://ingest.invalid/live")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	tr.Push(transport.Event{Kind: transport.EventConnected})
	if _, ok := tr.Poll(time.Now()); ok {
		t.Fatalf("Poll() after Close() should never report an event")
	}
}

func TestProtocolString(t *testing.T) {
	cases := map[Protocol]string{
		ProtocolWHIP: "whip",
		ProtocolWHEP: "whep",
		ProtocolRTMP: "rtmp",
		ProtocolSIP:  "sip",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Protocol(%d).String() = %q, want %q", p, got, want)
		}
	}
}
