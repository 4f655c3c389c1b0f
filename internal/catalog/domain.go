// internal/catalog/domain.go
package catalog

import (
	"github.com/google/uuid"
)

// TopicBookAdded is the event bus topic carrying newly created books.
const TopicBookAdded = "book-added"

// Author represents an author known to the catalog.
type Author struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Born *int      `json:"born"`
	// BookCount is derived on read and never stored.
	BookCount int `json:"bookCount"`
}

// Book represents a catalogued book. AuthorID always refers to a persisted Author.
type Book struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Published int       `json:"published"`
	Genres    []string  `json:"genres"`
	AuthorID  uuid.UUID `json:"-"`
	Author    *Author   `json:"author"`
}

// HasGenre reports whether genre is one of the book's genres.
func (b *Book) HasGenre(genre string) bool {
	for _, g := range b.Genres {
		if g == genre {
			return true
		}
	}
	return false
}

// User represents a catalog user. Passwords are not part of the model.
type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	FavoriteGenre string    `json:"favoriteGenre"`
}

// Token is the login result carrying a signed credential.
type Token struct {
	Value string `json:"value"`
}

// NewBookInput holds the addBook arguments.
type NewBookInput struct {
	Title     string   `json:"title" validate:"min=3"`
	Published int      `json:"published" validate:"gte=0"`
	Author    string   `json:"author" validate:"min=3"`
	Genres    []string `json:"genres" validate:"min=1,dive,notblank"`
}

// EditAuthorInput holds the editAuthor arguments.
type EditAuthorInput struct {
	Name      string `json:"name" validate:"min=3"`
	SetBornTo int    `json:"setBornTo"`
}

// NewUserInput holds the createUser arguments.
type NewUserInput struct {
	Username      string `json:"username" validate:"min=3"`
	FavoriteGenre string `json:"favoriteGenre" validate:"notblank"`
}

// LoginInput holds the login arguments.
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BooksFilter narrows allBooks. Empty fields do not filter.
type BooksFilter struct {
	Author string `json:"author"`
	Genre  string `json:"genre"`
}
