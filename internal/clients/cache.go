package clients

import (
	"sync"

	"librarycatalog/internal/catalog"
)

// BookCache is the client side copy of the allBooks result. Entries are keyed by
// title and author name, and are only ever appended.
type BookCache struct {
	mu    sync.RWMutex
	books []catalog.Book
	index map[bookKey]int
}

type bookKey struct {
	title  string
	author string
}

func keyOf(b catalog.Book) bookKey {
	k := bookKey{title: b.Title}
	if b.Author != nil {
		k.author = b.Author.Name
	}
	return k
}

func NewBookCache() *BookCache {
	return &BookCache{index: make(map[bookKey]int)}
}

// Load merges a fetched allBooks result.
func (c *BookCache) Load(books []*catalog.Book) {
	for _, b := range books {
		if b != nil {
			c.Merge(*b)
		}
	}
}

// Merge appends book unless an entry with the same title and author is cached. It
// reports whether the cache changed.
func (c *BookCache) Merge(book catalog.Book) bool {
	k := keyOf(book)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[k]; ok {
		return false
	}
	c.index[k] = len(c.books)
	c.books = append(c.books, clone(book))
	return true
}

// Books returns the cached books in merge order.
func (c *BookCache) Books() []catalog.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.Book, len(c.books))
	for i, b := range c.books {
		out[i] = clone(b)
	}
	return out
}

// ByGenre returns the cached books listing genre, the recommendation view for a
// user's favorite genre.
func (c *BookCache) ByGenre(genre string) []catalog.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []catalog.Book
	for i := range c.books {
		if c.books[i].HasGenre(genre) {
			out = append(out, clone(c.books[i]))
		}
	}
	return out
}

// Genres returns the distinct genres of the cached books in first seen order.
func (c *BookCache) Genres() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []string{}
	for i := range c.books {
		for _, g := range c.books[i].Genres {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				out = append(out, g)
			}
		}
	}
	return out
}

func (c *BookCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

func clone(b catalog.Book) catalog.Book {
	b.Genres = append([]string(nil), b.Genres...)
	if b.Author != nil {
		a := *b.Author
		if a.Born != nil {
			born := *a.Born
			a.Born = &born
		}
		b.Author = &a
	}
	return b
}
