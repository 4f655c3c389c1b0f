// Package chaos wraps a catalog.Store with switchable fault injection, used to check
// that the catalog degrades the way it should when the database is slow or failing.
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"librarycatalog/internal/catalog"
)

// ErrInjected is the default injected failure.
var ErrInjected = errors.New("chaos: injected storage failure")

// Fault describes what to do to matching calls.
type Fault struct {
	// Latency is added before the call. Cancelled contexts cut it short.
	Latency time.Duration
	// Err fails the call without reaching the wrapped store.
	Err error
	// Ops limits the fault to the named Store methods. Empty matches every method.
	Ops []string
}

func (f Fault) matches(op string) bool {
	if len(f.Ops) == 0 {
		return true
	}
	for _, o := range f.Ops {
		if o == op {
			return true
		}
	}
	return false
}

type Store struct {
	next   catalog.Store
	tracer trace.Tracer
	faults metric.Int64Counter

	mu       sync.Mutex
	fault    *Fault
	injected map[string]int
}

func Wrap(next catalog.Store) *Store {
	faults, err := otel.Meter("librarycatalog/store/chaos").Int64Counter("chaos.faults_injected",
		metric.WithDescription("Store calls that had a fault injected"))
	if err != nil {
		faults = noop.Int64Counter{}
	}
	return &Store{
		next:     next,
		tracer:   otel.Tracer("librarycatalog/store/chaos"),
		faults:   faults,
		injected: make(map[string]int),
	}
}

// Inject activates f until Heal is called.
func (s *Store) Inject(f Fault) {
	s.mu.Lock()
	s.fault = &f
	s.mu.Unlock()
}

// Heal removes the active fault.
func (s *Store) Heal() {
	s.mu.Lock()
	s.fault = nil
	s.mu.Unlock()
}

// Injected returns how many calls of op were faulted.
func (s *Store) Injected(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injected[op]
}

func (s *Store) apply(ctx context.Context, op string) error {
	s.mu.Lock()
	f := s.fault
	if f != nil && f.matches(op) {
		s.injected[op]++
	} else {
		f = nil
	}
	s.mu.Unlock()
	if f == nil {
		return nil
	}

	s.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("store.op", op)))
	span := trace.SpanFromContext(ctx)
	span.AddEvent("chaos.fault_injected", trace.WithAttributes(
		attribute.String("store.op", op),
		attribute.Int64("latency_ms", f.Latency.Milliseconds()),
	))
	if f.Latency > 0 {
		t := time.NewTimer(f.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.Err
}

func call[T any](s *Store, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, "chaos."+op)
	defer span.End()
	if err := s.apply(ctx, op); err != nil {
		var zero T
		span.RecordError(err)
		return zero, err
	}
	return fn(ctx)
}

func exec(s *Store, ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := call(s, ctx, op, func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) })
	return err
}

func (s *Store) FindAuthorByName(ctx context.Context, name string) (*catalog.Author, error) {
	return call(s, ctx, "FindAuthorByName", func(ctx context.Context) (*catalog.Author, error) {
		return s.next.FindAuthorByName(ctx, name)
	})
}

func (s *Store) InsertAuthor(ctx context.Context, author *catalog.Author) error {
	return exec(s, ctx, "InsertAuthor", func(ctx context.Context) error { return s.next.InsertAuthor(ctx, author) })
}

func (s *Store) UpdateAuthor(ctx context.Context, author *catalog.Author) error {
	return exec(s, ctx, "UpdateAuthor", func(ctx context.Context) error { return s.next.UpdateAuthor(ctx, author) })
}

func (s *Store) ListAuthors(ctx context.Context) ([]*catalog.Author, error) {
	return call(s, ctx, "ListAuthors", s.next.ListAuthors)
}

func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	return call(s, ctx, "CountAuthors", s.next.CountAuthors)
}

func (s *Store) CountBooksByAuthor(ctx context.Context, authorID uuid.UUID) (int, error) {
	return call(s, ctx, "CountBooksByAuthor", func(ctx context.Context) (int, error) {
		return s.next.CountBooksByAuthor(ctx, authorID)
	})
}

func (s *Store) FindBookByTitle(ctx context.Context, title string) (*catalog.Book, error) {
	return call(s, ctx, "FindBookByTitle", func(ctx context.Context) (*catalog.Book, error) {
		return s.next.FindBookByTitle(ctx, title)
	})
}

func (s *Store) InsertBook(ctx context.Context, book *catalog.Book) error {
	return exec(s, ctx, "InsertBook", func(ctx context.Context) error { return s.next.InsertBook(ctx, book) })
}

func (s *Store) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	return call(s, ctx, "ListBooks", s.next.ListBooks)
}

func (s *Store) CountBooks(ctx context.Context) (int, error) {
	return call(s, ctx, "CountBooks", s.next.CountBooks)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*catalog.User, error) {
	return call(s, ctx, "FindUserByUsername", func(ctx context.Context) (*catalog.User, error) {
		return s.next.FindUserByUsername(ctx, username)
	})
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*catalog.User, error) {
	return call(s, ctx, "FindUserByID", func(ctx context.Context) (*catalog.User, error) {
		return s.next.FindUserByID(ctx, id)
	})
}

func (s *Store) InsertUser(ctx context.Context, user *catalog.User) error {
	return exec(s, ctx, "InsertUser", func(ctx context.Context) error { return s.next.InsertUser(ctx, user) })
}
