// internal/catalog/store.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store is the data access facade over the persistent collections.
//
// Lookups return ErrNotFound on an empty result. Inserts return ErrConflict when a
// uniqueness constraint (author name, book title, username) is violated. Any other
// error is a storage failure and is surfaced to the caller.
type Store interface {
	FindAuthorByName(ctx context.Context, name string) (*Author, error)
	InsertAuthor(ctx context.Context, author *Author) error
	UpdateAuthor(ctx context.Context, author *Author) error
	ListAuthors(ctx context.Context) ([]*Author, error)
	CountAuthors(ctx context.Context) (int, error)
	CountBooksByAuthor(ctx context.Context, authorID uuid.UUID) (int, error)

	FindBookByTitle(ctx context.Context, title string) (*Book, error)
	InsertBook(ctx context.Context, book *Book) error
	// ListBooks returns every book with Author populated.
	ListBooks(ctx context.Context) ([]*Book, error)
	CountBooks(ctx context.Context) (int, error)

	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	InsertUser(ctx context.Context, user *User) error
}
