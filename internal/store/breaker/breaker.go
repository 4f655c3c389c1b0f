// Package breaker guards a catalog.Store with a circuit breaker so a failing database
// is reported quickly instead of piling up requests.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"librarycatalog/internal/catalog"
)

// ErrUnavailable wraps the breaker's rejection of a call.
var ErrUnavailable = errors.New("store unavailable")

// Settings tunes the breaker. Zero values fall back to the defaults below.
type Settings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

type Store struct {
	next catalog.Store
	cb   *gobreaker.CircuitBreaker
}

// Wrap decorates next. NotFound and Conflict results are answers, not failures, and do
// not count towards tripping.
func Wrap(next catalog.Store, st Settings, log zerolog.Logger) *Store {
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = 5
	}
	if st.OpenTimeout == 0 {
		st.OpenTimeout = 10 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "store",
		Timeout: st.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= st.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrConflict)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &Store{next: next, cb: cb}
}

// State exposes the breaker state for health reporting.
func (s *Store) State() gobreaker.State { return s.cb.State() }

func call[T any](s *Store, fn func() (T, error)) (T, error) {
	v, err := s.cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return zero, err
	}
	return v.(T), nil
}

func exec(s *Store, fn func() error) error {
	_, err := call(s, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (s *Store) FindAuthorByName(ctx context.Context, name string) (*catalog.Author, error) {
	return call(s, func() (*catalog.Author, error) { return s.next.FindAuthorByName(ctx, name) })
}

func (s *Store) InsertAuthor(ctx context.Context, author *catalog.Author) error {
	return exec(s, func() error { return s.next.InsertAuthor(ctx, author) })
}

func (s *Store) UpdateAuthor(ctx context.Context, author *catalog.Author) error {
	return exec(s, func() error { return s.next.UpdateAuthor(ctx, author) })
}

func (s *Store) ListAuthors(ctx context.Context) ([]*catalog.Author, error) {
	return call(s, func() ([]*catalog.Author, error) { return s.next.ListAuthors(ctx) })
}

func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	return call(s, func() (int, error) { return s.next.CountAuthors(ctx) })
}

func (s *Store) CountBooksByAuthor(ctx context.Context, authorID uuid.UUID) (int, error) {
	return call(s, func() (int, error) { return s.next.CountBooksByAuthor(ctx, authorID) })
}

func (s *Store) FindBookByTitle(ctx context.Context, title string) (*catalog.Book, error) {
	return call(s, func() (*catalog.Book, error) { return s.next.FindBookByTitle(ctx, title) })
}

func (s *Store) InsertBook(ctx context.Context, book *catalog.Book) error {
	return exec(s, func() error { return s.next.InsertBook(ctx, book) })
}

func (s *Store) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	return call(s, func() ([]*catalog.Book, error) { return s.next.ListBooks(ctx) })
}

func (s *Store) CountBooks(ctx context.Context) (int, error) {
	return call(s, func() (int, error) { return s.next.CountBooks(ctx) })
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*catalog.User, error) {
	return call(s, func() (*catalog.User, error) { return s.next.FindUserByUsername(ctx, username) })
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*catalog.User, error) {
	return call(s, func() (*catalog.User, error) { return s.next.FindUserByID(ctx, id) })
}

func (s *Store) InsertUser(ctx context.Context, user *catalog.User) error {
	return exec(s, func() error { return s.next.InsertUser(ctx, user) })
}
