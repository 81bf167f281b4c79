// Command mediaworker runs one sans-I/O media fabric worker node (spec
// §4.5): it hosts endpoint sessions, the cluster room registry, the
// overlay client, and the RPC surface over a single frame.NewService
// process.
package main

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame"
	frameconfig "github.com/pitabwire/frame/config"

	"github.com/voicetyped/mediafabric/config"
	"github.com/voicetyped/mediafabric/internal/connectutil"
	"github.com/voicetyped/mediafabric/internal/overlay"
	"github.com/voicetyped/mediafabric/internal/rpc"
	"github.com/voicetyped/mediafabric/internal/runtime"
)

// sessionDispatcher resolves an RPC call's session_id to the transport
// handling it. Populated as WHIP/WHEP/webrtc_connect calls create sessions
// (the HTTP-level SDP/ICE handling that produces the initial transport is
// explicitly out of scope per spec §1, so registration is left to whatever
// protocol-specific glue constructs each transport).
type sessionDispatcher struct {
	mu       sync.RWMutex
	sessions map[string]rpc.RpcTarget
}

func newSessionDispatcher() *sessionDispatcher {
	return &sessionDispatcher{sessions: make(map[string]rpc.RpcTarget)}
}

func (d *sessionDispatcher) Lookup(sessionID string) (rpc.RpcTarget, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.sessions[sessionID]
	return t, ok
}

func (d *sessionDispatcher) Register(sessionID string, t rpc.RpcTarget) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionID] = t
}

func main() {
	ctx := context.Background()

	cfg, err := frameconfig.LoadWithOIDC[config.MediaWorkerConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("mediafabric-worker"),
		frame.WithRegisterServerOauth2Client(),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	ovl := overlay.NewClient(cfg.OverlayURL, overlay.ClientConfig{
		SubjectRoot:        cfg.OverlaySubjectRoot,
		ReconnectInitial:   time.Duration(cfg.ReconnectInitialMs) * time.Millisecond,
		ReconnectMax:       time.Duration(cfg.ReconnectMaxMs) * time.Millisecond,
		CBFailureThreshold: cfg.CBFailThreshold,
		CBResetTimeout:     time.Duration(cfg.CBResetTimeoutSec) * time.Second,
	})
	defer ovl.Close(ctx)

	orch := runtime.NewOrchestrator(ovl, pool)

	rpcHandler := rpc.NewHandler(newSessionDispatcher(), 5*time.Second)
	mux := rpcHandler.Mux(connectutil.DefaultOptions()...)

	go runWorkerLoop(ctx, orch)

	srv.Init(ctx, frame.WithHTTPHandler(connectutil.H2CHandler(mux)))
	if err := srv.Run(ctx, ""); err != nil {
		slog.Error("mediaworker: service stopped", slog.String("err", err.Error()))
	}
}

// runWorkerLoop drives the orchestrator's Pump once per wall-clock tick,
// matching runtime.WallClockInterval (spec §4.5 "single-threaded
// cooperative per worker").
func runWorkerLoop(ctx context.Context, orch *runtime.Orchestrator) {
	ticker := time.NewTicker(runtime.WallClockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			orch.Pump(ctx, now)
		}
	}
}
