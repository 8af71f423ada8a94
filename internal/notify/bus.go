// Package notify provides the best-effort in-process pub/sub notifier
// described in spec §4.6: the bulk mutation service (internal/bulk)
// publishes an Event per Job, BatchJob, or LogEvent it creates, updates, or
// deletes, and subscribers (e.g. a websocket-facing handler or the bulk
// service's own test suite) drain a bounded per-subscriber queue.
// Single-entity routes and TransferItem writes publish nothing.
//
// The shape — a channel-keyed map of subscriptions guarded by a mutex,
// Subscribe/Unsubscribe/Close/Publish — is
// adapted from pkg/pgnotify/bus.go's LISTEN/NOTIFY bus. Unlike that bus,
// delivery here is in-process only: nothing is persisted to Postgres, and a
// slow subscriber can never block a publisher — its queue is bounded and
// publish drops the event (incrementing a dropped counter) rather than
// blocking or growing without bound.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Event is a single notification about a resource change.
type Event struct {
	Channel   string      `json:"channel"`
	Resource  string      `json:"resource"`
	ID        string      `json:"id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription is a live subscription returned by Bus.Subscribe. Callers
// read Events() until Close is called or the bus is closed.
type Subscription struct {
	channel string
	queue   chan Event
	bus     *Bus
	once    sync.Once
}

// Events returns the channel of delivered events. It is closed when the
// subscription or the owning bus is closed.
func (s *Subscription) Events() <-chan Event { return s.queue }

// Close unregisters the subscription from its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.channel, s)
		close(s.queue)
	})
}

// Bus is the process-local event bus. It is safe for concurrent use.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*Subscription
	queueDepth int
	limiter    *rate.Limiter
	dropped    int64
	droppedMu  sync.Mutex
	closed     bool
}

// Config controls queue sizing and publish rate limiting (spec §9's
// ambient rate-limiting concern applied to the notifier so a runaway bulk
// mutation cannot flood subscribers).
type Config struct {
	QueueDepth       int
	PublishPerSecond float64
}

// New creates a Bus. A PublishPerSecond of zero disables rate limiting.
func New(cfg Config) *Bus {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	var limiter *rate.Limiter
	if cfg.PublishPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PublishPerSecond), int(cfg.PublishPerSecond))
	}
	return &Bus{
		subs:       make(map[string][]*Subscription),
		queueDepth: depth,
		limiter:    limiter,
	}
}

// Subscribe registers a subscription on channel. Channels are free-form
// strings; internal/bulk publishes on the entity names "job", "batch_job",
// and "event".
func (b *Bus) Subscribe(channel string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		channel: channel,
		queue:   make(chan Event, b.queueDepth),
		bus:     b,
	}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub
}

func (b *Bus) unsubscribe(channel string, target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[channel]
	for i, s := range subs {
		if s == target {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish delivers event to every subscriber of channel. Delivery is
// best-effort: a subscriber whose queue is full has the event dropped for
// it rather than blocking the publisher. ctx is honored only for the rate
// limiter's Wait; publish to individual subscriber queues never blocks.
func (b *Bus) Publish(ctx context.Context, channel string, event Event) {
	if b.limiter != nil {
		_ = b.limiter.Wait(ctx)
	}

	event.Channel = channel
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- event:
		default:
			b.droppedMu.Lock()
			b.dropped++
			b.droppedMu.Unlock()
		}
	}
}

// Dropped returns the number of events dropped since the bus was created,
// for surfacing on a metrics endpoint.
func (b *Bus) Dropped() int64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.dropped
}

// Close unregisters and closes every live subscription. Publish after
// Close is a safe no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.once.Do(func() { close(s.queue) })
		}
	}
	b.subs = make(map[string][]*Subscription)
}
