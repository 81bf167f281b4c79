// Package overlay implements the cluster-wide pub/sub fabric every room
// and endpoint talks to instead of each other directly (spec §6
// "Overlay"): a Control/Event protocol carried over gocloud.dev/pubsub
// (backed by NATS via pitabwire/natspubsub), with a circuit breaker and
// reconnect backoff guarding the underlying connection. Grounded on
// pkg/events/publisher.go's queue-backed Emit/Subscribe shape and
// pkg/webhook/circuit_breaker.go's failure-threshold pattern (the latter
// replaced here by sony/gobreaker/v2, the library the rest of the pack
// reaches for instead of a hand-rolled breaker).
package overlay

import (
	"github.com/voicetyped/mediafabric/internal/identity"
)

// ControlKind enumerates the overlay control frames a channel publisher
// or subscriber emits (spec §6).
type ControlKind int

const (
	ControlPubStart ControlKind = iota
	ControlPubStop
	ControlPubData
	ControlSubAuto
	ControlUnsubAuto
	ControlFeedbackAuto
)

// FeedbackPriority mirrors the priority/window pair carried by a
// FeedbackAuto control (spec §4.2.2 "window=100..200ms").
type FeedbackPriority struct {
	Priority int
	WindowMs int
}

// Control is one outbound frame addressed to a channel.
type Control struct {
	Channel  identity.ChannelId
	Kind     ControlKind
	Data     []byte
	Feedback FeedbackPriority
}

// EventKind enumerates the overlay events a channel delivers back to
// subscribers (spec §6).
type EventKind int

const (
	EventRouteChanged EventKind = iota
	EventSourceData
	EventFeedbackData
)

// Event is one inbound frame observed on a channel.
type Event struct {
	Channel identity.ChannelId
	Kind    EventKind
	Data    []byte
	NodeID  uint32
}
