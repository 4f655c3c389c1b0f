package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"librarycatalog/internal/catalog"
)

func book(title, author string, genres ...string) catalog.Book {
	return catalog.Book{Title: title, Author: &catalog.Author{Name: author}, Genres: genres}
}

func genBook() *rapid.Generator[catalog.Book] {
	return rapid.Custom(func(t *rapid.T) catalog.Book {
		return book(
			rapid.SampledFrom([]string{"Refactoring", "Clean Code", "The Demon", "Go"}).Draw(t, "title"),
			rapid.SampledFrom([]string{"Martin Fowler", "Robert Martin", "Fyodor Dostoevsky"}).Draw(t, "author"),
			rapid.SampledFrom([]string{"classic", "refactoring", "crime"}).Draw(t, "genre"),
		)
	})
}

func TestMergeIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		books := rapid.SliceOf(genBook()).Draw(t, "books")
		again := rapid.SliceOf(rapid.SampledFrom(append(books, book("Extra", "Someone")))).Draw(t, "again")

		once := NewBookCache()
		for _, b := range books {
			once.Merge(b)
		}
		snapshot := once.Books()

		for _, b := range books {
			if once.Merge(b) {
				t.Fatalf("re-merging %q changed the cache", b.Title)
			}
		}
		if !assert.ObjectsAreEqual(snapshot, once.Books()) {
			t.Fatalf("cache changed after merging the same books twice")
		}

		// merging arbitrary books keeps every earlier entry in place.
		for _, b := range again {
			once.Merge(b)
		}
		after := once.Books()
		if !assert.ObjectsAreEqual(snapshot, after[:len(snapshot)]) {
			t.Fatalf("merge discarded or reordered cached entries")
		}
	})
}

func TestMergeKeysOnTitleAndAuthor(t *testing.T) {
	c := NewBookCache()
	assert.True(t, c.Merge(book("Refactoring", "Martin Fowler", "classic")))
	assert.False(t, c.Merge(book("Refactoring", "Martin Fowler", "other")))
	assert.True(t, c.Merge(book("Refactoring", "Someone Else")))
	assert.True(t, c.Merge(catalog.Book{Title: "Anonymous"}))
	assert.False(t, c.Merge(catalog.Book{Title: "Anonymous"}))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"classic"}, c.Books()[0].Genres, "first merged entry wins")
}

func TestLoadThenMergeOwnBook(t *testing.T) {
	c := NewBookCache()
	own := book("Go in Action", "A. Smith", "tech")
	c.Load([]*catalog.Book{{Title: "Refactoring", Author: &catalog.Author{Name: "Martin Fowler"}}, nil})
	require.True(t, c.Merge(own))

	// the subscription push for the book this client just added.
	assert.False(t, c.Merge(own))
	assert.Equal(t, 2, c.Len())
}

func TestByGenre(t *testing.T) {
	c := NewBookCache()
	c.Merge(book("Refactoring", "Martin Fowler", "refactoring", "classic"))
	c.Merge(book("The Demon", "Fyodor Dostoevsky", "classic"))
	c.Merge(book("Clean Code", "Robert Martin", "refactoring"))

	got := c.ByGenre("refactoring")
	require.Len(t, got, 2)
	assert.Equal(t, "Refactoring", got[0].Title)
	assert.Equal(t, "Clean Code", got[1].Title)
	assert.Empty(t, c.ByGenre("crime"))
}

func TestGenresAreDistinctInFirstSeenOrder(t *testing.T) {
	c := NewBookCache()
	assert.Empty(t, c.Genres())

	c.Merge(book("Refactoring", "Martin Fowler", "refactoring", "classic"))
	c.Merge(book("The Demon", "Fyodor Dostoevsky", "classic", "revolution"))
	c.Merge(book("Clean Code", "Robert Martin", "refactoring"))
	assert.Equal(t, []string{"refactoring", "classic", "revolution"}, c.Genres())

	c.Merge(book("Crime and Punishment", "Fyodor Dostoevsky", "crime"))
	assert.Equal(t, []string{"refactoring", "classic", "revolution", "crime"}, c.Genres())
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewBookCache()
	b := book("Refactoring", "Martin Fowler", "classic")
	c.Merge(b)
	b.Genres[0] = "mutated"

	out := c.Books()
	out[0].Author.Name = "mutated"
	out[0].Genres[0] = "mutated"

	again := c.Books()
	assert.Equal(t, "Martin Fowler", again[0].Author.Name)
	assert.Equal(t, []string{"classic"}, again[0].Genres)
}
