// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"librarycatalog/internal/pubsub"
)

// Deps are the collaborators of the catalog service.
type Deps struct {
	Store     Store
	Bus       *pubsub.Bus
	Tokens    TokenIssuer
	Passwords PasswordVerifier
	// LoginLimiter throttles login attempts. Nil disables throttling.
	LoginLimiter *rate.Limiter
	Logger       zerolog.Logger
}

// service implements the Service interface.
type service struct {
	store        Store
	bus          *pubsub.Bus
	tokens       TokenIssuer
	passwords    PasswordVerifier
	loginLimiter *rate.Limiter
	log          zerolog.Logger
	tracer       trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(deps Deps) Service {
	return &service{
		store:        deps.Store,
		bus:          deps.Bus,
		tokens:       deps.Tokens,
		passwords:    deps.Passwords,
		loginLimiter: deps.LoginLimiter,
		log:          deps.Logger.With().Str("component", "catalog").Logger(),
		tracer:       otel.Tracer("librarycatalog/catalog"),
	}
}

func (s *service) BookCount(ctx context.Context) (int, error) {
	n, err := s.store.CountBooks(ctx)
	if err != nil {
		return 0, storageFailure("bookCount", err)
	}
	return n, nil
}

func (s *service) AuthorCount(ctx context.Context) (int, error) {
	n, err := s.store.CountAuthors(ctx)
	if err != nil {
		return 0, storageFailure("authorCount", err)
	}
	return n, nil
}

// AllBooks fetches the candidate set and narrows it by author identity and genre.
// Naming an author that does not exist is an input error, not an empty result.
func (s *service) AllBooks(ctx context.Context, filter BooksFilter) ([]*Book, error) {
	const op = "allBooks"
	ctx, span := s.tracer.Start(ctx, "catalog.all_books", trace.WithAttributes(
		attribute.String("filter.author", filter.Author),
		attribute.String("filter.genre", filter.Genre),
	))
	defer span.End()

	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, storageFailure(op, err)
	}
	countByAuthor(books)

	if filter.Author != "" {
		author, err := s.store.FindAuthorByName(ctx, filter.Author)
		if errors.Is(err, ErrNotFound) {
			return nil, badInput(op, "author", "author not found")
		}
		if err != nil {
			return nil, storageFailure(op, err)
		}
		books = keep(books, func(b *Book) bool { return b.AuthorID == author.ID })
	}
	if filter.Genre != "" {
		books = keep(books, func(b *Book) bool { return b.HasGenre(filter.Genre) })
	}
	span.SetAttributes(attribute.Int("books.returned", len(books)))
	return books, nil
}

func (s *service) AllAuthors(ctx context.Context) ([]*Author, error) {
	const op = "allAuthors"
	authors, err := s.store.ListAuthors(ctx)
	if err != nil {
		return nil, storageFailure(op, err)
	}
	for _, a := range authors {
		n, err := s.store.CountBooksByAuthor(ctx, a.ID)
		if err != nil {
			return nil, storageFailure(op, err)
		}
		a.BookCount = n
	}
	return authors, nil
}

// Me echoes the request identity. Anonymous requests get nil without an error.
func (s *service) Me(ctx context.Context) (*User, error) {
	return UserFrom(ctx), nil
}

// AddBook runs identity, validation, the duplicate title rule, the author resolve and
// the book insert in that order, then publishes the new book. Publishing never fails
// the mutation. An author created before a failed book insert is kept.
func (s *service) AddBook(ctx context.Context, in NewBookInput) (*Book, error) {
	const op = "addBook"
	ctx, span := s.tracer.Start(ctx, "catalog.add_book", trace.WithAttributes(
		attribute.String("book.title", in.Title),
		attribute.String("author.name", in.Author),
	))
	defer span.End()

	if UserFrom(ctx) == nil {
		return nil, unauthenticated(op)
	}
	if err := ValidateNewBook(in); err != nil {
		return nil, err
	}

	_, err := s.store.FindBookByTitle(ctx, in.Title)
	switch {
	case err == nil:
		return nil, badInput(op, "title", "book already exists")
	case !errors.Is(err, ErrNotFound):
		return nil, storageFailure(op, err)
	}

	author, err := s.resolveAuthor(ctx, op, in.Author)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.CountBooksByAuthor(ctx, author.ID)
	if err != nil {
		return nil, storageFailure(op, err)
	}

	book := &Book{
		Title:     in.Title,
		Published: in.Published,
		Genres:    uniqueGenres(in.Genres),
		AuthorID:  author.ID,
		Author:    author,
	}
	if err := s.store.InsertBook(ctx, book); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, badInput(op, "title", "book already exists")
		}
		return nil, storageFailure(op, err)
	}
	author.BookCount = existing + 1

	s.publishBookAdded(ctx, book)
	return book, nil
}

// resolveAuthor finds the author or creates it, then reads it back so the book always
// references the persisted record. A conflicting insert means a concurrent request
// created the author first, and the lookup is retried once.
func (s *service) resolveAuthor(ctx context.Context, op, name string) (*Author, error) {
	author, err := s.store.FindAuthorByName(ctx, name)
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, storageFailure(op, err)
	}

	err = s.store.InsertAuthor(ctx, &Author{Name: name})
	switch {
	case err == nil:
		s.log.Debug().Str("author", name).Msg("author created")
	case errors.Is(err, ErrConflict):
		s.log.Debug().Str("author", name).Msg("author created concurrently, retrying lookup")
	default:
		return nil, storageFailure(op, err)
	}

	author, err = s.store.FindAuthorByName(ctx, name)
	if err != nil {
		return nil, storageFailure(op, err)
	}
	return author, nil
}

func (s *service) publishBookAdded(ctx context.Context, book *Book) {
	payload := *book
	payload.Genres = append([]string(nil), book.Genres...)
	if book.Author != nil {
		a := *book.Author
		payload.Author = &a
	}
	n, err := s.bus.Publish(context.WithoutCancel(ctx), TopicBookAdded, &payload)
	if err != nil {
		s.log.Warn().Err(err).Str("book", book.Title).Msg("book-added publish failed")
		return
	}
	s.log.Debug().Str("book", book.Title).Int("subscribers", n).Msg("book-added published")
}

func (s *service) EditAuthor(ctx context.Context, in EditAuthorInput) (*Author, error) {
	const op = "editAuthor"
	ctx, span := s.tracer.Start(ctx, "catalog.edit_author", trace.WithAttributes(
		attribute.String("author.name", in.Name),
	))
	defer span.End()

	if UserFrom(ctx) == nil {
		return nil, unauthenticated(op)
	}
	if err := ValidateAuthorEdit(in); err != nil {
		return nil, err
	}

	author, err := s.store.FindAuthorByName(ctx, in.Name)
	if errors.Is(err, ErrNotFound) {
		return nil, badInput(op, "name", "author not found")
	}
	if err != nil {
		return nil, storageFailure(op, err)
	}

	born := in.SetBornTo
	author.Born = &born
	if err := s.store.UpdateAuthor(ctx, author); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, badInput(op, "name", "author not found")
		}
		return nil, storageFailure(op, err)
	}

	n, err := s.store.CountBooksByAuthor(ctx, author.ID)
	if err != nil {
		return nil, storageFailure(op, err)
	}
	author.BookCount = n
	return author, nil
}

func (s *service) CreateUser(ctx context.Context, in NewUserInput) (*User, error) {
	const op = "createUser"
	if err := ValidateNewUser(in); err != nil {
		return nil, err
	}
	user := &User{Username: in.Username, FavoriteGenre: strings.TrimSpace(in.FavoriteGenre)}
	if err := s.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, badInput(op, "username", "username already taken")
		}
		return nil, storageFailure(op, err)
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, in LoginInput) (*Token, error) {
	const op = "login"
	if s.loginLimiter != nil && !s.loginLimiter.Allow() {
		return nil, &Error{Op: op, Kind: KindRateLimited, Message: "rate limit exceeded"}
	}

	user, err := s.store.FindUserByUsername(ctx, in.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, badInput(op, "", "wrong credentials")
	}
	if err != nil {
		return nil, storageFailure(op, err)
	}
	if !s.passwords.Verify(user, in.Password) {
		return nil, badInput(op, "", "wrong credentials")
	}

	value, err := s.tokens.Issue(user)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindInternal, Message: "could not issue credential", Err: err}
	}
	return &Token{Value: value}, nil
}

func (s *service) BookAdded(_ context.Context) (*pubsub.Subscription, error) {
	sub, err := s.bus.Subscribe(TopicBookAdded)
	if err != nil {
		return nil, &Error{Op: "bookAdded", Kind: KindInternal, Message: "subscriptions unavailable", Err: err}
	}
	return sub, nil
}

// countByAuthor fills the nested Author.BookCount from a complete book listing.
func countByAuthor(books []*Book) {
	counts := make(map[uuid.UUID]int, len(books))
	for _, b := range books {
		counts[b.AuthorID]++
	}
	for _, b := range books {
		if b.Author != nil {
			b.Author.BookCount = counts[b.AuthorID]
		}
	}
}

func keep(books []*Book, pred func(*Book) bool) []*Book {
	out := make([]*Book, 0, len(books))
	for _, b := range books {
		if pred(b) {
			out = append(out, b)
		}
	}
	return out
}

func uniqueGenres(genres []string) []string {
	seen := make(map[string]struct{}, len(genres))
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
