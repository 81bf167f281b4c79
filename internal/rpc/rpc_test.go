package rpc

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/voicetyped/mediafabric/internal/transport"
	"github.com/voicetyped/mediafabric/internal/transport/stub"
)

type fakeDispatcher struct {
	targets map[string]RpcTarget
}

func (d *fakeDispatcher) Lookup(sessionID string) (RpcTarget, bool) {
	t, ok := d.targets[sessionID]
	return t, ok
}

func TestConnectTimesOutWithoutDeliver(t *testing.T) {
	tr := stub.New(stub.ProtocolWHIP, "https://example.invalid/whip/s1")
	h := NewHandler(&fakeDispatcher{targets: map[string]RpcTarget{"s1": tr}}, 20*time.Millisecond)

	fn := h.Connect("whip_connect")
	resp, err := fn(context.Background(), connect.NewRequest(&ConnectRequest{SessionID: "s1", Offer: "v=0"}))
	if err != nil {
		t.Fatalf("Connect() returned an error instead of a coded failure: %v", err)
	}
	if resp.Msg.Status {
		t.Fatalf("Connect() without a worker Deliver() should fail, got status=true")
	}

	if _, ok := tr.Poll(time.Now()); !ok {
		t.Fatalf("expected the stub transport to have received the pushed EventRpcReq")
	}
}

func TestConnectUnknownSession(t *testing.T) {
	h := NewHandler(&fakeDispatcher{targets: map[string]RpcTarget{}}, 20*time.Millisecond)
	fn := h.Connect("whep_connect")
	resp, err := fn(context.Background(), connect.NewRequest(&ConnectRequest{SessionID: "missing"}))
	if err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	if resp.Msg.Status {
		t.Fatalf("Connect() for an unknown session should fail")
	}
}

func TestDeliverCompletesPendingCall(t *testing.T) {
	tr := stub.New(stub.ProtocolWHIP, "https://example.invalid/whip/s1")
	h := NewHandler(&fakeDispatcher{targets: map[string]RpcTarget{"s1": tr}}, time.Second)

	done := make(chan *connect.Response[ConnectResponse], 1)
	go func() {
		resp, _ := h.Connect("whip_connect")(context.Background(), connect.NewRequest(&ConnectRequest{SessionID: "s1", Offer: "v=0"}))
		done <- resp
	}()

	ev, ok := waitForPush(t, tr)
	if !ok {
		t.Fatal("expected an EventRpcReq to be pushed onto the stub transport")
	}
	h.Deliver(transport.RpcResponse{ID: ev.Rpc.ID, Status: true, Body: []byte("v=0\r\n")})

	select {
	case resp := <-done:
		if !resp.Msg.Status || resp.Msg.Answer != "v=0\r\n" {
			t.Fatalf("Connect() result = %+v, want status=true answer=v=0\\r\\n", resp.Msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Connect() to return after Deliver()")
	}
}

func waitForPush(t *testing.T, tr *stub.Transport) (transport.Event, bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := tr.Poll(time.Now()); ok {
			return ev, true
		}
		time.Sleep(time.Millisecond)
	}
	return transport.Event{}, false
}
