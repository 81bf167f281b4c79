// Package telemetry wires the allocator/mixer/selector instruments and the
// overlay round-trip spans called for by the domain stack's OTel wiring.
// Metrics dashboards are out of scope (spec §1); only the instruments
// themselves are emitted here, exported through whatever MeterProvider/
// TracerProvider frame's service bootstrap installs globally.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/voicetyped/mediafabric"

var (
	tracer = otel.Tracer(instrumentationName)

	selectorDrops   metric.Int64Counter
	mixerSlotChurn  metric.Int64Counter
	allocatorChange metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)

	var err error
	selectorDrops, err = meter.Int64Counter(
		"mediafabric.selector.drops",
		metric.WithDescription("packets the packet selector chose not to forward"),
	)
	if err != nil {
		slog.Warn("telemetry: failed to create selector drop counter", slog.String("err", err.Error()))
	}

	mixerSlotChurn, err = meter.Int64Counter(
		"mediafabric.audiomixer.slot_churn",
		metric.WithDescription("audio mixer slot assignment/unassignment events"),
	)
	if err != nil {
		slog.Warn("telemetry: failed to create mixer slot churn counter", slog.String("err", err.Error()))
	}

	allocatorChange, err = meter.Int64Counter(
		"mediafabric.bitrate.allocator_decisions",
		metric.WithDescription("egress/ingress bitrate allocator decisions applied to a track"),
	)
	if err != nil {
		slog.Warn("telemetry: failed to create allocator decision counter", slog.String("err", err.Error()))
	}
}

// RecordSelectorDrop counts one packet dropped by a local track's packet
// selector (spec §4.4 "Packet Selector").
func RecordSelectorDrop(ctx context.Context, kind string) {
	if selectorDrops == nil {
		return
	}
	selectorDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMixerSlotChurn counts one audio mixer slot set/unset (spec §4.3).
func RecordMixerSlotChurn(ctx context.Context, event string) {
	if mixerSlotChurn == nil {
		return
	}
	mixerSlotChurn.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordAllocatorDecision counts one egress/ingress allocator decision
// (spec §4.1 "Bitrate Allocator").
func RecordAllocatorDecision(ctx context.Context, direction string) {
	if allocatorChange == nil {
		return
	}
	allocatorChange.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// StartOverlaySpan opens a span around one overlay publish/subscribe
// round-trip.
func StartOverlaySpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "overlay."+operation)
}
