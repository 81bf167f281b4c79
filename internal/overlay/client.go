package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	"golang.org/x/sync/errgroup"

	_ "github.com/pitabwire/natspubsub"

	"github.com/voicetyped/mediafabric/internal/identity"
	"github.com/voicetyped/mediafabric/internal/telemetry"
)

// ClientConfig configures the overlay client's connection, matching
// config.ClusterConfig's OverlayURL/reconnect/circuit-breaker fields.
type ClientConfig struct {
	SubjectRoot        string
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	CBFailureThreshold uint32
	CBResetTimeout     time.Duration
}

// Client is the overlay pub/sub client every room and endpoint talks
// through (spec §6 "Overlay"). It carries Control/Event frames over
// gocloud.dev/pubsub (backed by NATS via pitabwire/natspubsub in
// production, mempubsub in tests), guarded by a gobreaker circuit breaker
// so publishes to a degraded overlay node fail fast with gobreaker's own
// open-state error instead of hanging publishers. Control-frame publishes
// are retried with cenkalti/backoff/v5 for at most cfg.ReconnectMax. Grounded on pkg/events.Publisher's
// queue-backed Emit/Subscribe shape and pkg/webhook.Deliverer's
// per-destination circuit breaker, replacing the latter's hand-rolled
// CircuitBreaker with the library the rest of the pack reaches for.
type Client struct {
	cfg ClientConfig

	mu      sync.RWMutex
	topics  map[identity.ChannelId]*pubsub.Topic
	subs    map[identity.ChannelId]*pubsub.Subscription
	urlBase string

	breaker *gobreaker.CircuitBreaker[struct{}]
	events  chan Event
}

// NewClient creates an overlay client whose topics/subscriptions are
// opened lazily against urlBase (a gocloud.dev/pubsub URL such as
// "nats://127.0.0.1:4222" or "mem://" for tests), joined with the
// per-channel subject under cfg.SubjectRoot.
func NewClient(urlBase string, cfg ClientConfig) *Client {
	st := gobreaker.Settings{
		Name:        "overlay",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.CBResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailureThreshold
		},
	}
	return &Client{
		cfg:     cfg,
		topics:  make(map[identity.ChannelId]*pubsub.Topic),
		subs:    make(map[identity.ChannelId]*pubsub.Subscription),
		urlBase: urlBase,
		breaker: gobreaker.NewCircuitBreaker[struct{}](st),
		events:  make(chan Event, 1024),
	}
}

func (c *Client) topicURL(ch identity.ChannelId) string {
	return fmt.Sprintf("%s.%s.%d", c.urlBase, c.cfg.SubjectRoot, uint64(ch))
}

func (c *Client) openTopic(ctx context.Context, ch identity.ChannelId) (*pubsub.Topic, error) {
	c.mu.RLock()
	t, ok := c.topics[ch]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.topics[ch]; ok {
		return t, nil
	}
	t, err := pubsub.OpenTopic(ctx, c.topicURL(ch))
	if err != nil {
		return nil, fmt.Errorf("overlay: open topic for channel %d: %w", ch, err)
	}
	c.topics[ch] = t
	return t, nil
}

// Publish sends one Control frame, retried with exponential backoff up to
// cfg.ReconnectMax and guarded by the circuit breaker (spec §7 "Overlay
// send errors on media use best-effort; on control they are retried by the
// overlay"). Media PubData uses a single attempt; control frames
// (PubStart/PubStop/SubAuto/UnsubAuto/FeedbackAuto) retry.
func (c *Client) Publish(ctx context.Context, ctrl Control) error {
	ctx, span := telemetry.StartOverlaySpan(ctx, "publish")
	defer span.End()

	isControl := ctrl.Kind != ControlPubData

	op := func() (struct{}, error) {
		topic, err := c.openTopic(ctx, ctrl.Channel)
		if err != nil {
			return struct{}{}, err
		}
		return c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, topic.Send(ctx, &pubsub.Message{
				Body: ctrl.Data,
				Metadata: map[string]string{
					"kind": kindLabel(ctrl.Kind),
				},
			})
		})
	}

	if !isControl {
		_, err := op()
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.cfg.ReconnectMax))
	return err
}

func kindLabel(k ControlKind) string {
	switch k {
	case ControlPubStart:
		return "pub_start"
	case ControlPubStop:
		return "pub_stop"
	case ControlPubData:
		return "pub_data"
	case ControlSubAuto:
		return "sub_auto"
	case ControlUnsubAuto:
		return "unsub_auto"
	case ControlFeedbackAuto:
		return "feedback_auto"
	default:
		return "unknown"
	}
}

// Subscribe opens (or reuses) a subscription for channel and starts a
// receive loop that pushes decoded Events onto the shared Events() channel
// until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, ch identity.ChannelId) error {
	c.mu.Lock()
	if _, ok := c.subs[ch]; ok {
		c.mu.Unlock()
		return nil
	}
	sub, err := pubsub.OpenSubscription(ctx, c.topicURL(ch))
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("overlay: open subscription for channel %d: %w", ch, err)
	}
	c.subs[ch] = sub
	c.mu.Unlock()

	go c.receiveLoop(ctx, ch, sub)
	return nil
}

func (c *Client) receiveLoop(ctx context.Context, ch identity.ChannelId, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("overlay: subscription receive error, retrying", slog.Uint64("channel", uint64(ch)), slog.String("err", err.Error()))
			time.Sleep(c.cfg.ReconnectInitial)
			continue
		}
		msg.Ack()
		select {
		case c.events <- Event{Channel: ch, Kind: EventSourceData, Data: msg.Body}:
		default:
			slog.Warn("overlay: event channel full, dropping source data", slog.Uint64("channel", uint64(ch)))
		}
	}
}

// Unsubscribe tears down the subscription for channel (spec §4.2.3: refcount
// reaching zero should stop receiving).
func (c *Client) Unsubscribe(ch identity.ChannelId) error {
	c.mu.Lock()
	sub, ok := c.subs[ch]
	delete(c.subs, ch)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Shutdown(context.Background())
}

// Events returns the channel overlay Events are delivered on.
func (c *Client) Events() <-chan Event { return c.events }

// Close shuts down every open topic and subscription, using an errgroup so
// a single slow shutdown does not block the others (spec §4.5 "Shutdown
// drains each task's shutdown(now)").
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	topics := make([]*pubsub.Topic, 0, len(c.topics))
	for _, t := range c.topics {
		topics = append(topics, t)
	}
	subs := make([]*pubsub.Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.topics = make(map[identity.ChannelId]*pubsub.Topic)
	c.subs = make(map[identity.ChannelId]*pubsub.Subscription)
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range topics {
		t := t
		g.Go(func() error { return t.Shutdown(ctx) })
	}
	for _, s := range subs {
		s := s
		g.Go(func() error { return s.Shutdown(ctx) })
	}
	return g.Wait()
}
