// internal/catalog/service.go
package catalog

import (
	"context"

	"librarycatalog/internal/pubsub"
)

// Service defines the catalog operations. Every error it returns is an *Error.
type Service interface {
	BookCount(ctx context.Context) (int, error)
	AuthorCount(ctx context.Context) (int, error)
	AllBooks(ctx context.Context, filter BooksFilter) ([]*Book, error)
	AllAuthors(ctx context.Context) ([]*Author, error)
	Me(ctx context.Context) (*User, error)

	AddBook(ctx context.Context, in NewBookInput) (*Book, error)
	EditAuthor(ctx context.Context, in EditAuthorInput) (*Author, error)
	CreateUser(ctx context.Context, in NewUserInput) (*User, error)
	Login(ctx context.Context, in LoginInput) (*Token, error)

	// BookAdded opens a subscription delivering every book added from now on.
	BookAdded(ctx context.Context) (*pubsub.Subscription, error)
}

// TokenIssuer signs a credential for an authenticated user.
type TokenIssuer interface {
	Issue(user *User) (string, error)
}

// PasswordVerifier checks the login password of a user.
type PasswordVerifier interface {
	Verify(user *User, password string) bool
}
