package clients_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/clients"
	"librarycatalog/internal/config"
	"librarycatalog/internal/server"
)

func setupServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.LoginPassword = "secret"
	s, err := server.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Bus().Close()
		ts.Close()
	})
	return s, ts.URL
}

func loggedIn(t *testing.T, url, username string) *clients.CatalogClient {
	t.Helper()
	ctx := context.Background()
	c := clients.NewCatalogClient(url)
	_, err := c.CreateUser(ctx, catalog.NewUserInput{Username: username, FavoriteGenre: "classic"})
	require.NoError(t, err)
	_, err = c.Login(ctx, username, "secret")
	require.NoError(t, err)
	return c
}

func TestRemoteErrorsKeepKind(t *testing.T) {
	_, url := setupServer(t)
	c := clients.NewCatalogClient(url)

	_, err := c.EditAuthor(context.Background(), catalog.EditAuthorInput{Name: "Nobody", SetBornTo: 1})
	var ce *catalog.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, catalog.KindUnauthenticated, ce.Kind)
	assert.Equal(t, "editAuthor", ce.Op)

	_, err = c.CreateUser(context.Background(), catalog.NewUserInput{Username: "alice", FavoriteGenre: " "})
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, catalog.KindBadUserInput, ce.Kind)
	assert.Equal(t, "favoriteGenre", ce.Field)
}

func TestWatchMergesOwnAndForeignBooks(t *testing.T) {
	s, url := setupServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := loggedIn(t, url, "alice")
	bob := loggedIn(t, url, "bob")

	_, err := alice.AddBook(ctx, catalog.NewBookInput{Title: "Refactoring", Published: 1999, Author: "Martin Fowler", Genres: []string{"classic"}})
	require.NoError(t, err)

	cache := clients.NewBookCache()
	var (
		mu  sync.Mutex
		got []string
	)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- clients.Watch(ctx, alice, cache, func(b catalog.Book) {
			mu.Lock()
			got = append(got, b.Title)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		return s.Bus().Subscribers(catalog.TopicBookAdded) == 1 && cache.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// whichever of the optimistic merge and the push comes second is a no-op.
	own, err := clients.AddBook(ctx, alice, cache, catalog.NewBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin", Genres: []string{"classic"}})
	require.NoError(t, err)
	assert.Equal(t, "Clean Code", own.Title)

	_, err = bob.AddBook(ctx, catalog.NewBookInput{Title: "The Demon", Published: 1872, Author: "Fyodor Dostoevsky", Genres: []string{"revolution"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cache.Len() == 3 && len(got) > 0 && got[len(got)-1] == "The Demon"
	}, 5*time.Second, 10*time.Millisecond)
	titles := make([]string, 0, 3)
	for _, b := range cache.Books() {
		titles = append(titles, b.Title)
	}
	assert.ElementsMatch(t, []string{"Refactoring", "Clean Code", "The Demon"}, titles)
	assert.Equal(t, "Refactoring", titles[0])

	mu.Lock()
	assert.Contains(t, got, "Refactoring")
	assert.Contains(t, got, "The Demon")
	assert.LessOrEqual(t, len(got), 3, "each book is reported once")
	mu.Unlock()
	assert.Len(t, cache.ByGenre("classic"), 2)

	cancel()
	select {
	case err := <-watchErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestSubscriptionEndsOnShutdown(t *testing.T) {
	s, url := setupServer(t)
	c := clients.NewCatalogClient(url)
	books, errs, err := c.SubscribeBookAdded(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Bus().Close())

	select {
	case _, ok := <-books:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed")
	}
	err = <-errs
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

func TestSubscribeRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"data":null,"errors":[{"message":"subscriptions unavailable","extensions":{"code":"INTERNAL"}}]}`))
	}))
	defer ts.Close()

	_, _, err := clients.NewCatalogClient(ts.URL).SubscribeBookAdded(context.Background())
	assert.True(t, catalog.IsKind(err, catalog.KindInternal), "got %v", err)
}

func TestUnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := clients.NewCatalogClient(ts.URL).BookCount(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
