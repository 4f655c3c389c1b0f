// Package pubsub provides the in-process, topic keyed event bus used to fan out
// domain events to live subscribers.
//
// Publish never blocks on a subscriber. Every subscription owns a bounded queue; when
// a publish finds the queue full the subscription is closed with ErrSlowConsumer
// instead of applying backpressure to the publisher. A subscription only receives
// events published while it is open, there is no replay.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed bus, and is the reason of
	// subscriptions terminated by Bus.Close.
	ErrClosed = errors.New("pubsub: bus is closed")
	// ErrSlowConsumer is the reason of a subscription dropped because its queue overflowed.
	ErrSlowConsumer = errors.New("pubsub: slow consumer")
	// ErrUnsubscribed is the reason of a subscription closed by its owner.
	ErrUnsubscribed = errors.New("pubsub: unsubscribed")
)

// DefaultBuffer is the per subscription queue length.
const DefaultBuffer = 64

// Event is one delivery on a subscription.
type Event struct {
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per subscription queue length. Values below 1 are ignored.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithMetrics records bus activity in m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// Bus fans out published events to the open subscriptions of a topic.
// The zero value is not usable, call New.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string]map[uint64]*Subscription
	closed  bool
	nextID  atomic.Uint64
	buffer  int
	metrics *Metrics
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[string]map[uint64]*Subscription),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscription on topic.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &Subscription{
		id:    b.nextID.Add(1),
		topic: topic,
		bus:   b,
		ch:    make(chan Event, b.buffer),
		done:  make(chan struct{}),
	}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[s.id] = s
	b.metrics.subscribed(topic)
	return s, nil
}

// Publish enqueues payload on every subscription of topic that is open at the time of
// the call and returns the number of subscriptions it was delivered to. Subscriptions
// whose queue is full are closed with ErrSlowConsumer.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ev := Event{Topic: topic, Payload: payload, PublishedAt: time.Now().UTC()}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, ErrClosed
	}
	var delivered int
	var slow []*Subscription
	for _, s := range b.topics[topic] {
		switch s.offer(ev) {
		case offerDelivered:
			delivered++
		case offerFull:
			slow = append(slow, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range slow {
		s.closeWith(ErrSlowConsumer)
	}
	b.metrics.published(topic, delivered, len(slow))
	return delivered, nil
}

// Subscribers returns the number of open subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close terminates every subscription with ErrClosed. Further calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.topics {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.closeWith(ErrClosed)
	}
	return nil
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[s.topic]
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.topics, s.topic)
	}
	b.metrics.unsubscribed(s.topic)
}
