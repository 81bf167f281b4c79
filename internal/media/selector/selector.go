// Package selector implements the per-local-track packet selector (spec
// §4.4): continuity across source switches, layer targeting for scalable
// codecs, and keyframe-request throttling. Grounded on
// media_core/.../local_track/packet_selector.rs.
package selector

import (
	"log/slog"

	"github.com/voicetyped/mediafabric/internal/media/seqrewrite"
	"github.com/voicetyped/mediafabric/internal/media/tsrewrite"
	"github.com/voicetyped/mediafabric/internal/wire"
)

const (
	// RequestKeyFrameIntervalMs throttles keyframe requests (spec §4.4, ported
	// from the original's REQUEST_KEY_FRAME_INTERVAL_MS).
	RequestKeyFrameIntervalMs uint64 = 100
	// SeqMax and TsMax are the wire moduli for the rewriters, ported verbatim
	// from packet_selector.rs's SEQ_MAX/TS_MAX constants.
	SeqMax uint64 = 1 << 16
	TsMax  uint64 = 1 << 32
	// seqWindow is the SeqRewrite WINDOW from spec §4.4.
	seqWindow uint64 = 1000
	// tsDeltaReinit is the TsRewrite TS_DELTA_REINIT from spec §4.4.
	tsDeltaReinit int64 = 10
)

// ActionKind tags the PacketSelector's output queue entries.
type ActionKind int

const (
	ActionRequestKeyFrame ActionKind = iota
	ActionDesiredBitrate
)

// Action is an output of the selector: either a keyframe request or a
// layer-selector's desired bitrate hint.
type Action struct {
	Kind     ActionKind
	Bitrate  uint64
}

// VariantKind tags which codec selector variant is active, matching spec §9's
// design note: "model as a tagged variant ... No trait objects required."
type VariantKind int

const (
	VariantNone VariantKind = iota
	VariantSingle
	VariantSimVP8
	VariantSimH264
	VariantSVCVP9
)

// variant holds the per-codec layer-selection state. Each variant is a plain
// record with its own step function, selected by Kind rather than dispatched
// through an interface.
type variant struct {
	Kind VariantKind

	// Simulcast (VP8/H264): currently targeted layer and desired bitrate hint.
	targetLayer   int
	desiredBps    uint64

	// SVC (VP9): currently targeted spatial/temporal layers.
	targetSpatial  int
	targetTemporal int

	pendingBitrateAction bool
}

func newVariant(kind VariantKind) *variant {
	return &variant{Kind: kind}
}

// setTargetBitrate adjusts the targeted layer for bitrate-adaptive variants.
// Bitrate thresholds are coarse (one rung per ~150kbps) since the original
// left the concrete layer-selection policy as a todo!().
func (v *variant) setTargetBitrate(bitrate uint64) {
	switch v.Kind {
	case VariantSimVP8, VariantSimH264:
		layer := int(bitrate / 150_000)
		if layer > 2 {
			layer = 2
		}
		if layer != v.targetLayer {
			v.targetLayer = layer
			v.pendingBitrateAction = true
		}
	case VariantSVCVP9:
		spatial := int(bitrate / 300_000)
		if spatial > 2 {
			spatial = 2
		}
		if spatial != v.targetSpatial {
			v.targetSpatial = spatial
			v.targetTemporal = 2
			v.pendingBitrateAction = true
		}
	}
}

// accepts reports whether pkt belongs to the currently targeted layer.
func (v *variant) accepts(pkt *wire.MediaPacket) bool {
	switch v.Kind {
	case VariantNone, VariantSingle:
		return true
	case VariantSimVP8, VariantSimH264:
		if pkt.Meta.Sim == nil {
			return true
		}
		return pkt.Meta.Sim.Layer == v.targetLayer
	case VariantSVCVP9:
		if pkt.Meta.Svc == nil {
			return true
		}
		return pkt.Meta.Svc.Spatial == v.targetSpatial && pkt.Meta.Svc.Temporal <= v.targetTemporal
	default:
		return true
	}
}

func (v *variant) popAction() (Action, bool) {
	if v.pendingBitrateAction {
		v.pendingBitrateAction = false
		bps := v.desiredBps
		switch v.Kind {
		case VariantSimVP8, VariantSimH264:
			bps = uint64(v.targetLayer+1) * 150_000
		case VariantSVCVP9:
			bps = uint64(v.targetSpatial+1) * 300_000
		}
		return Action{Kind: ActionDesiredBitrate, Bitrate: bps}, true
	}
	return Action{}, false
}

// variantForMeta constructs the variant matching the first packet's meta, per
// spec §4.4 step 1.
func variantForMeta(kind wire.MediaKind, meta wire.MediaMeta) *variant {
	if !kind.IsVideo() {
		return newVariant(VariantNone)
	}
	switch meta.Kind {
	case wire.MetaVP8:
		if meta.Sim != nil {
			return newVariant(VariantSimVP8)
		}
	case wire.MetaH264:
		if meta.Sim != nil {
			return newVariant(VariantSimH264)
		}
	case wire.MetaVP9:
		if meta.Svc != nil {
			return newVariant(VariantSVCVP9)
		}
	}
	return newVariant(VariantSingle)
}

// PacketSelector maintains continuity for one local track across source
// switches (spec §4.4).
type PacketSelector struct {
	kind    wire.MediaKind
	ts      *tsrewrite.Rewrite
	seq     *seqrewrite.Rewrite
	channel *uint64

	needKeyFrame   bool
	lastKeyFrameTs *uint64

	variant *variant
	queue   []Action
}

// New creates a PacketSelector for a track of the given kind.
func New(kind wire.MediaKind) *PacketSelector {
	return &PacketSelector{
		kind: kind,
		ts:   tsrewrite.New(kind.SampleRate(), int64(TsMax), tsDeltaReinit),
		seq:  seqrewrite.New(SeqMax, seqWindow),
	}
}

// Reset clears source-switch state; call when the local track unsubscribes.
func (s *PacketSelector) Reset() {
	s.channel = nil
	s.variant = nil
	s.needKeyFrame = false
	s.lastKeyFrameTs = nil
}

// SetTargetBitrate forwards a desired bitrate to the active layer selector.
func (s *PacketSelector) SetTargetBitrate(bitrate uint64) {
	if s.variant != nil {
		s.variant.setTargetBitrate(bitrate)
	}
}

// OnTick throttles pending keyframe requests (spec §4.4 "Keyframe throttling").
func (s *PacketSelector) OnTick(nowMs uint64) {
	if s.needKeyFrame {
		if s.lastKeyFrameTs == nil || *s.lastKeyFrameTs+RequestKeyFrameIntervalMs <= nowMs {
			ts := nowMs
			s.lastKeyFrameTs = &ts
			s.queue = append(s.queue, Action{Kind: ActionRequestKeyFrame})
		}
	}
}

// Select runs the per-packet algorithm from spec §4.4: reinit on source
// change, layer filtering, ts/seq rewrite, keyframe-flag clearing. Returns
// false when pkt should be dropped.
func (s *PacketSelector) Select(nowMs uint64, channel uint64, pkt *wire.MediaPacket) bool {
	if s.channel == nil || *s.channel != channel {
		slog.Info("packet selector: source changed, reinit rewriters",
			slog.Uint64("channel", channel))
		s.ts.Reinit()
		s.seq.Reinit()
		s.channel = &channel
		s.variant = variantForMeta(s.kind, pkt.Meta)

		if s.kind.IsVideo() {
			s.queue = append(s.queue, Action{Kind: ActionRequestKeyFrame})
			s.needKeyFrame = true
			ts := nowMs
			s.lastKeyFrameTs = &ts
		}
	}

	if s.variant != nil && !s.variant.accepts(pkt) {
		return false
	}

	pkt.Ts = uint32(s.ts.Generate(nowMs, uint64(pkt.Ts)))
	rewrittenSeq, ok := s.seq.Generate(pkt.Seq)
	if !ok {
		return false
	}
	pkt.Seq = uint16(rewrittenSeq)

	if s.needKeyFrame && pkt.Meta.IsVideoKey() {
		s.needKeyFrame = false
	}

	return true
}

// PopOutput drains queued outputs: explicit keyframe requests take priority
// over the active variant's own action queue.
func (s *PacketSelector) PopOutput(nowMs uint64) (Action, bool) {
	if len(s.queue) > 0 {
		out := s.queue[0]
		s.queue = s.queue[1:]
		return out, true
	}
	if s.variant == nil {
		return Action{}, false
	}
	for {
		act, ok := s.variant.popAction()
		if !ok {
			return Action{}, false
		}
		if act.Kind == ActionRequestKeyFrame {
			if s.lastKeyFrameTs == nil || *s.lastKeyFrameTs+RequestKeyFrameIntervalMs <= nowMs {
				ts := nowMs
				s.lastKeyFrameTs = &ts
				return act, true
			}
			continue
		}
		return act, true
	}
}
