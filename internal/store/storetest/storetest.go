// Package storetest holds the behaviour every catalog.Store implementation must share.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
)

// Run exercises newStore against the store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) catalog.Store) {
	t.Run("AuthorLookupMiss", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindAuthorByName(context.Background(), "Nobody")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("AuthorNameIsUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertAuthor(ctx, &catalog.Author{Name: "Ursula K. Le Guin"}))
		err := s.InsertAuthor(ctx, &catalog.Author{Name: "Ursula K. Le Guin"})
		assert.ErrorIs(t, err, catalog.ErrConflict)

		n, err := s.CountAuthors(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ConcurrentAuthorInsertCreatesOne", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		var mu sync.Mutex
		created, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InsertAuthor(ctx, &catalog.Author{Name: "Race Author"})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					created++
				} else if assert.ErrorIs(t, err, catalog.ErrConflict) {
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
		assert.Equal(t, 7, conflicts)
	})

	t.Run("UpdateAuthorBorn", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := &catalog.Author{Name: "Frank Herbert"}
		require.NoError(t, s.InsertAuthor(ctx, a))
		born := 1920
		a.Born = &born
		require.NoError(t, s.UpdateAuthor(ctx, a))

		got, err := s.FindAuthorByName(ctx, "Frank Herbert")
		require.NoError(t, err)
		require.NotNil(t, got.Born)
		assert.Equal(t, 1920, *got.Born)

		missing := &catalog.Author{ID: uuid.New(), Name: "Ghost"}
		assert.ErrorIs(t, s.UpdateAuthor(ctx, missing), catalog.ErrNotFound)
	})

	t.Run("BooksReferenceAuthors", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := &catalog.Author{Name: "Frank Herbert"}
		require.NoError(t, s.InsertAuthor(ctx, a))

		b := &catalog.Book{Title: "Dune", Published: 1965, Genres: []string{"scifi", "classic"}, AuthorID: a.ID}
		require.NoError(t, s.InsertBook(ctx, b))
		assert.NotEqual(t, uuid.Nil, b.ID)

		got, err := s.FindBookByTitle(ctx, "Dune")
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
		assert.ElementsMatch(t, []string{"scifi", "classic"}, got.Genres)
		require.NotNil(t, got.Author)
		assert.Equal(t, "Frank Herbert", got.Author.Name)

		all, err := s.ListBooks(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.NotNil(t, all[0].Author)
		assert.Equal(t, a.ID, all[0].Author.ID)

		n, err := s.CountBooksByAuthor(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.CountBooks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("BookTitleIsUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := &catalog.Author{Name: "Frank Herbert"}
		require.NoError(t, s.InsertAuthor(ctx, a))
		require.NoError(t, s.InsertBook(ctx, &catalog.Book{Title: "Dune", Genres: []string{"scifi"}, AuthorID: a.ID}))

		err := s.InsertBook(ctx, &catalog.Book{Title: "Dune", Genres: []string{"scifi"}, AuthorID: a.ID})
		assert.ErrorIs(t, err, catalog.ErrConflict)

		_, err = s.FindBookByTitle(ctx, "Children of Dune")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("Users", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := &catalog.User{Username: "reader", FavoriteGenre: "scifi"}
		require.NoError(t, s.InsertUser(ctx, u))
		assert.ErrorIs(t, s.InsertUser(ctx, &catalog.User{Username: "reader", FavoriteGenre: "x"}), catalog.ErrConflict)

		byName, err := s.FindUserByUsername(ctx, "reader")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
		assert.Equal(t, "scifi", byName.FavoriteGenre)

		byID, err := s.FindUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "reader", byID.Username)

		_, err = s.FindUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
		_, err = s.FindUserByID(ctx, uuid.New())
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})
}
