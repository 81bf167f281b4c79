// Package rpc exposes the fabric's session RPC surface (spec §6 "RPC
// surface": whip/whep/webrtc_connect, *_remote_ice, webrtc_restart_ice,
// *_close) as connect.NewUnaryHandler-built endpoints, without generated
// proto stubs: no .proto sources are part of this module, so the surface
// is hand-modeled here using connectrpc.com/connect directly, matching
// connectutil's manual interceptor wiring.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/voicetyped/mediafabric/internal/errs"
	"github.com/voicetyped/mediafabric/internal/transport"
)

// ConnectRequest carries an SDP offer for one of whip/whep/webrtc_connect
// (spec §6). Method distinguishes which: set by the mux path, not the body.
type ConnectRequest struct {
	SessionID string `json:"session_id"`
	Offer     string `json:"offer"`
}

// ConnectResponse carries the SDP answer, or a failure code (spec §7:
// "{status:false, error:CODE}" on failure).
type ConnectResponse struct {
	Status bool   `json:"status"`
	Answer string `json:"answer,omitempty"`
	Code   string `json:"error,omitempty"`
}

// RemoteIceRequest carries one trickled ICE candidate for an existing session.
type RemoteIceRequest struct {
	SessionID string `json:"session_id"`
	Candidate string `json:"candidate"`
}

// RestartIceRequest asks the transport to restart ICE negotiation.
type RestartIceRequest struct {
	SessionID string `json:"session_id"`
}

// CloseRequest tears a session's transport down.
type CloseRequest struct {
	SessionID string `json:"session_id"`
}

// StatusResponse is the shared envelope for remote_ice/restart_ice/close.
type StatusResponse struct {
	Status bool   `json:"status"`
	Code   string `json:"error,omitempty"`
}

// RpcTarget is the subset of a transport a session must expose to receive
// an injected EventRpcReq (spec §6); internal/transport/stub.Transport's
// Push method is the canonical implementation, mirroring how its own
// protocol driver would enqueue events.
type RpcTarget interface {
	Push(ev transport.Event)
}

// Dispatcher resolves a session ID to the RpcTarget handling it, so the RPC
// layer never constructs sessions itself — that remains the worker's job
// (spec §4.5 "the worker owns every child task").
type Dispatcher interface {
	Lookup(sessionID string) (RpcTarget, bool)
}

// Handler adapts transport.EventRpcReq/OutRpcResponse (spec §6) into HTTP
// via connect, blocking the caller's goroutine until the owning worker tick
// executes the matching Out{Kind: OutRpcResponse}.
type Handler struct {
	dispatcher Dispatcher
	timeout    time.Duration

	mu      sync.Mutex
	pending map[uint64]chan transport.RpcResponse
	nextID  uint64
}

// NewHandler creates an RPC handler dispatching onto sessions via d, with
// timeout bounding how long a call waits for the worker to answer.
func NewHandler(d Dispatcher, timeout time.Duration) *Handler {
	return &Handler{
		dispatcher: d,
		timeout:    timeout,
		pending:    make(map[uint64]chan transport.RpcResponse),
	}
}

// Deliver completes a pending call once the worker's transport adapter
// executes an Out{Kind: OutRpcResponse} for rpc.ID. It is the transport
// adapter's job to call this after handling EventRpcReq.
func (h *Handler) Deliver(resp transport.RpcResponse) {
	h.mu.Lock()
	ch, ok := h.pending[resp.ID]
	if ok {
		delete(h.pending, resp.ID)
	}
	h.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (h *Handler) call(ctx context.Context, sessionID, method string, body []byte) (transport.RpcResponse, error) {
	t, ok := h.dispatcher.Lookup(sessionID)
	if !ok {
		return transport.RpcResponse{}, errs.New(errs.NotFound, fmt.Sprintf("unknown session %q", sessionID))
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := make(chan transport.RpcResponse, 1)
	h.pending[id] = ch
	h.mu.Unlock()

	req := transport.Event{Kind: transport.EventRpcReq, Now: time.Now(), Rpc: transport.RpcRequest{ID: id, Method: method, Body: body}}
	t.Push(req)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return transport.RpcResponse{}, errs.New(errs.Timeout, fmt.Sprintf("rpc %s timed out", method))
	}
}

// Connect handles whip/whep/webrtc_connect: method is one of "whip_connect",
// "whep_connect", "webrtc_connect" (spec §6).
func (h *Handler) Connect(method string) func(context.Context, *connect.Request[ConnectRequest]) (*connect.Response[ConnectResponse], error) {
	return func(ctx context.Context, req *connect.Request[ConnectRequest]) (*connect.Response[ConnectResponse], error) {
		resp, err := h.call(ctx, req.Msg.SessionID, method, []byte(req.Msg.Offer))
		if err != nil {
			return connect.NewResponse(&ConnectResponse{Status: false, Code: string(errs.CodeOf(err))}), nil
		}
		if !resp.Status {
			return connect.NewResponse(&ConnectResponse{Status: false, Code: resp.Code}), nil
		}
		return connect.NewResponse(&ConnectResponse{Status: true, Answer: string(resp.Body)}), nil
	}
}

// RemoteIce handles {whip,whep,webrtc}_remote_ice (spec §6).
func (h *Handler) RemoteIce(method string) func(context.Context, *connect.Request[RemoteIceRequest]) (*connect.Response[StatusResponse], error) {
	return func(ctx context.Context, req *connect.Request[RemoteIceRequest]) (*connect.Response[StatusResponse], error) {
		resp, err := h.call(ctx, req.Msg.SessionID, method, []byte(req.Msg.Candidate))
		return statusResponse(resp, err), nil
	}
}

// RestartIce handles webrtc_restart_ice (spec §6).
func (h *Handler) RestartIce() func(context.Context, *connect.Request[RestartIceRequest]) (*connect.Response[StatusResponse], error) {
	return func(ctx context.Context, req *connect.Request[RestartIceRequest]) (*connect.Response[StatusResponse], error) {
		resp, err := h.call(ctx, req.Msg.SessionID, "webrtc_restart_ice", nil)
		return statusResponse(resp, err), nil
	}
}

// Close handles {whip,whep,webrtc}_close (spec §6).
func (h *Handler) Close(method string) func(context.Context, *connect.Request[CloseRequest]) (*connect.Response[StatusResponse], error) {
	return func(ctx context.Context, req *connect.Request[CloseRequest]) (*connect.Response[StatusResponse], error) {
		resp, err := h.call(ctx, req.Msg.SessionID, method, nil)
		return statusResponse(resp, err), nil
	}
}

func statusResponse(resp transport.RpcResponse, err error) *connect.Response[StatusResponse] {
	if err != nil {
		return connect.NewResponse(&StatusResponse{Status: false, Code: string(errs.CodeOf(err))})
	}
	return connect.NewResponse(&StatusResponse{Status: resp.Status, Code: resp.Code})
}

// Mux builds the full set of unary handlers onto an http.ServeMux, one path
// per spec §6 method, reusing connectutil's DefaultOptions for logging.
func (h *Handler) Mux(opts ...connect.HandlerOption) *http.ServeMux {
	opts = append(opts, connect.WithCodec(jsonCodec{}))
	mux := http.NewServeMux()

	for _, m := range []string{"whip_connect", "whep_connect", "webrtc_connect"} {
		path, handler := connect.NewUnaryHandler("/fabric.v1.RpcService/"+m, h.Connect(m), opts...)
		mux.Handle(path, handler)
	}
	for _, m := range []string{"whip_remote_ice", "whep_remote_ice", "webrtc_remote_ice"} {
		path, handler := connect.NewUnaryHandler("/fabric.v1.RpcService/"+m, h.RemoteIce(m), opts...)
		mux.Handle(path, handler)
	}
	{
		path, handler := connect.NewUnaryHandler("/fabric.v1.RpcService/webrtc_restart_ice", h.RestartIce(), opts...)
		mux.Handle(path, handler)
	}
	for _, m := range []string{"whip_close", "whep_close", "webrtc_close"} {
		path, handler := connect.NewUnaryHandler("/fabric.v1.RpcService/"+m, h.Close(m), opts...)
		mux.Handle(path, handler)
	}

	return mux
}
