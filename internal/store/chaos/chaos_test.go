package chaos_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/pubsub"
	"librarycatalog/internal/store/breaker"
	"librarycatalog/internal/store/chaos"
	"librarycatalog/internal/store/memstore"
	"librarycatalog/internal/store/storetest"
)

type issuer struct{}

func (issuer) Issue(u *catalog.User) (string, error) { return u.Username, nil }

type anyPassword struct{}

func (anyPassword) Verify(*catalog.User, string) bool { return true }

func setup(t *testing.T, store catalog.Store) (catalog.Service, *pubsub.Bus, context.Context) {
	t.Helper()
	bus := pubsub.New()
	t.Cleanup(func() { bus.Close() })
	svc := catalog.NewService(catalog.Deps{
		Store:     store,
		Bus:       bus,
		Tokens:    issuer{},
		Passwords: anyPassword{},
		Logger:    zerolog.Nop(),
	})
	ctx := catalog.WithUser(context.Background(), &catalog.User{Username: "chaos"})
	return svc, bus, ctx
}

func book(i int, author string) catalog.NewBookInput {
	return catalog.NewBookInput{Title: fmt.Sprintf("Book number %d", i), Published: 2000, Author: author, Genres: []string{"chaos"}}
}

func TestStoreContractWithoutFaults(t *testing.T) {
	storetest.Run(t, func(*testing.T) catalog.Store { return chaos.Wrap(memstore.New()) })
}

func TestHealRestoresService(t *testing.T) {
	store := chaos.Wrap(memstore.New())
	svc, _, ctx := setup(t, store)

	store.Inject(chaos.Fault{Err: chaos.ErrInjected, Ops: []string{"CountBooks"}})
	_, err := svc.BookCount(ctx)
	assert.True(t, catalog.IsKind(err, catalog.KindStorageFailure))
	assert.ErrorIs(t, err, chaos.ErrInjected)
	_, err = svc.AuthorCount(ctx)
	assert.NoError(t, err, "fault is limited to CountBooks")

	store.Heal()
	_, err = svc.BookCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Injected("CountBooks"))
}

// Hypothesis: a slow database slows mutations down but never delays delivery of
// events already published, and subscribers see every book.
func TestDatabaseLatencyKeepsDelivery(t *testing.T) {
	store := chaos.Wrap(memstore.New())
	svc, _, ctx := setup(t, store)
	sub, err := svc.BookAdded(ctx)
	require.NoError(t, err)

	store.Inject(chaos.Fault{Latency: 20 * time.Millisecond, Ops: []string{"InsertBook"}})
	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddBook(ctx, book(i, "Slow Author"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := sub.Receive(rctx)
		cancel()
		require.NoError(t, err)
		seen[ev.Payload.(*catalog.Book).Title] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, store.Injected("InsertBook"))
}

// Hypothesis: injected latency during author creation widens the find-then-insert
// window, and the uniqueness constraint still leaves exactly one author.
func TestConcurrentAuthorCreationUnderLatency(t *testing.T) {
	store := chaos.Wrap(memstore.New())
	svc, _, ctx := setup(t, store)
	store.Inject(chaos.Fault{Latency: 10 * time.Millisecond, Ops: []string{"FindAuthorByName"}})

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddBook(ctx, book(i, "Contended Author"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	store.Heal()

	authors, err := svc.AllAuthors(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, n, authors[0].BookCount)
}

// Hypothesis: a failing database trips the breaker, failures stay STORAGE_FAILURE,
// and the breaker closes again once the database recovers.
func TestBreakerRecoversAfterOutage(t *testing.T) {
	faulty := chaos.Wrap(memstore.New())
	cb := breaker.Wrap(faulty, breaker.Settings{ConsecutiveFailures: 3, OpenTimeout: 50 * time.Millisecond}, zerolog.Nop())
	svc, _, ctx := setup(t, cb)

	faulty.Inject(chaos.Fault{Err: chaos.ErrInjected})
	for i := 0; i < 5; i++ {
		_, err := svc.BookCount(ctx)
		assert.True(t, catalog.IsKind(err, catalog.KindStorageFailure))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, 3, faulty.Injected("CountBooks"), "open breaker sheds calls")

	faulty.Heal()
	require.Eventually(t, func() bool {
		_, err := svc.BookCount(ctx)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestLatencyHonoursCancellation(t *testing.T) {
	store := chaos.Wrap(memstore.New())
	store.Inject(chaos.Fault{Latency: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := store.CountBooks(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
