// Package memstore is an in-process implementation of catalog.Store. It enforces the
// same uniqueness constraints as the postgres schema.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
)

type Store struct {
	mu sync.RWMutex

	authors       map[uuid.UUID]catalog.Author
	authorsByName map[string]uuid.UUID
	books         map[uuid.UUID]catalog.Book
	booksByTitle  map[string]uuid.UUID
	bookOrder     []uuid.UUID
	users         map[uuid.UUID]catalog.User
	usersByName   map[string]uuid.UUID
}

func New() *Store {
	return &Store{
		authors:       make(map[uuid.UUID]catalog.Author),
		authorsByName: make(map[string]uuid.UUID),
		books:         make(map[uuid.UUID]catalog.Book),
		booksByTitle:  make(map[string]uuid.UUID),
		users:         make(map[uuid.UUID]catalog.User),
		usersByName:   make(map[string]uuid.UUID),
	}
}

func (s *Store) FindAuthorByName(_ context.Context, name string) (*catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.authorsByName[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	a := s.authors[id]
	return copyAuthor(a), nil
}

func (s *Store) InsertAuthor(_ context.Context, author *catalog.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorsByName[author.Name]; ok {
		return catalog.ErrConflict
	}
	if author.ID == uuid.Nil {
		author.ID = uuid.New()
	}
	s.authors[author.ID] = *copyAuthor(*author)
	s.authorsByName[author.Name] = author.ID
	return nil
}

func (s *Store) UpdateAuthor(_ context.Context, author *catalog.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.authors[author.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	if cur.Name != author.Name {
		if _, taken := s.authorsByName[author.Name]; taken {
			return catalog.ErrConflict
		}
		delete(s.authorsByName, cur.Name)
		s.authorsByName[author.Name] = author.ID
	}
	s.authors[author.ID] = *copyAuthor(*author)
	return nil
}

func (s *Store) ListAuthors(_ context.Context) ([]*catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*catalog.Author, 0, len(s.authors))
	for _, a := range s.authors {
		out = append(out, copyAuthor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CountAuthors(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.authors), nil
}

func (s *Store) CountBooksByAuthor(_ context.Context, authorID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.books {
		if b.AuthorID == authorID {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindBookByTitle(_ context.Context, title string) (*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.booksByTitle[title]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return s.populated(s.books[id]), nil
}

func (s *Store) InsertBook(_ context.Context, book *catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.booksByTitle[book.Title]; ok {
		return catalog.ErrConflict
	}
	if _, ok := s.authors[book.AuthorID]; !ok {
		return catalog.ErrNotFound
	}
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	stored := *book
	stored.Genres = append([]string(nil), book.Genres...)
	stored.Author = nil
	s.books[book.ID] = stored
	s.booksByTitle[book.Title] = book.ID
	s.bookOrder = append(s.bookOrder, book.ID)
	return nil
}

func (s *Store) ListBooks(_ context.Context) ([]*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*catalog.Book, 0, len(s.bookOrder))
	for _, id := range s.bookOrder {
		out = append(out, s.populated(s.books[id]))
	}
	return out, nil
}

func (s *Store) CountBooks(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books), nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (*catalog.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) FindUserByID(_ context.Context, id uuid.UUID) (*catalog.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &u, nil
}

func (s *Store) InsertUser(_ context.Context, user *catalog.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByName[user.Username]; ok {
		return catalog.ErrConflict
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = *user
	s.usersByName[user.Username] = user.ID
	return nil
}

// populated must be called with s.mu held.
func (s *Store) populated(b catalog.Book) *catalog.Book {
	b.Genres = append([]string(nil), b.Genres...)
	if a, ok := s.authors[b.AuthorID]; ok {
		b.Author = copyAuthor(a)
	}
	return &b
}

func copyAuthor(a catalog.Author) *catalog.Author {
	if a.Born != nil {
		born := *a.Born
		a.Born = &born
	}
	a.BookCount = 0
	return &a
}
