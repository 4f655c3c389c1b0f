package pubsub

import (
	"context"
	"sync"
)

type offerResult int

const (
	offerDelivered offerResult = iota
	offerFull
	offerClosed
)

// Subscription is a live registration on one topic. Ids are unique for the lifetime
// of the bus and never reused.
type Subscription struct {
	id    uint64
	topic string
	bus   *Bus

	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	closed bool
	err    error
}

func (s *Subscription) ID() uint64    { return s.id }
func (s *Subscription) Topic() string { return s.topic }

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription ends, before any remaining queued events are read.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil while it is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Receive waits for the next event. It returns the close reason once the subscription
// has ended, or the context error.
func (s *Subscription) Receive(ctx context.Context) (Event, error) {
	select {
	case <-s.done:
		return Event{}, s.Err()
	default:
	}
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return Event{}, s.Err()
		}
		return ev, nil
	case <-s.done:
		return Event{}, s.Err()
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close unsubscribes. It is idempotent and safe to call concurrently with Publish;
// events still queued may be dropped.
func (s *Subscription) Close() error {
	s.closeWith(ErrUnsubscribed)
	return nil
}

// offer enqueues without blocking. The lock orders offer against closeWith so a
// send never happens on a closed channel.
func (s *Subscription) offer(ev Event) offerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return offerClosed
	}
	select {
	case s.ch <- ev:
		return offerDelivered
	default:
		return offerFull
	}
}

func (s *Subscription) closeWith(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = reason
	close(s.done)
	close(s.ch)
	s.mu.Unlock()

	// must not hold s.mu here: Publish takes the bus lock before s.mu.
	s.bus.remove(s)
}
