// Package postgres implements catalog.Store on PostgreSQL through sqlx and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"librarycatalog/internal/catalog"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store provides the catalog collections over a postgres connection pool.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// Open connects to dsn, retrying the first ping with exponential backoff for up to maxWait.
func Open(ctx context.Context, dsn string, maxWait time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// New wraps an open pool. Call Migrate before first use on an empty database.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("librarycatalog/store/postgres"),
	}
}

type authorRow struct {
	ID   uuid.UUID     `db:"id"`
	Name string        `db:"name"`
	Born sql.NullInt64 `db:"born"`
}

func (r authorRow) author() *catalog.Author {
	a := &catalog.Author{ID: r.ID, Name: r.Name}
	if r.Born.Valid {
		born := int(r.Born.Int64)
		a.Born = &born
	}
	return a
}

type bookRow struct {
	ID         uuid.UUID      `db:"id"`
	Title      string         `db:"title"`
	Published  int            `db:"published"`
	Genres     pq.StringArray `db:"genres"`
	AuthorID   uuid.UUID      `db:"author_id"`
	AuthorName string         `db:"author_name"`
	AuthorBorn sql.NullInt64  `db:"author_born"`
}

func (r bookRow) book() *catalog.Book {
	return &catalog.Book{
		ID:        r.ID,
		Title:     r.Title,
		Published: r.Published,
		Genres:    []string(r.Genres),
		AuthorID:  r.AuthorID,
		Author:    authorRow{ID: r.AuthorID, Name: r.AuthorName, Born: r.AuthorBorn}.author(),
	}
}

type userRow struct {
	ID            uuid.UUID `db:"id"`
	Username      string    `db:"username"`
	FavoriteGenre string    `db:"favorite_genre"`
}

func (r userRow) user() *catalog.User {
	return &catalog.User{ID: r.ID, Username: r.Username, FavoriteGenre: r.FavoriteGenre}
}

const selectBooks = `
	SELECT b.id, b.title, b.published, b.genres, b.author_id,
	       a.name AS author_name, a.born AS author_born
	FROM books b
	JOIN authors a ON a.id = b.author_id
`

func (s *Store) FindAuthorByName(ctx context.Context, name string) (*catalog.Author, error) {
	ctx, span := s.start(ctx, "find_author_by_name", attribute.String("author.name", name))
	defer span.End()

	var row authorRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, born FROM authors WHERE name = $1`, name)
	if err != nil {
		return nil, s.fail(span, "find author", err)
	}
	return row.author(), nil
}

func (s *Store) InsertAuthor(ctx context.Context, author *catalog.Author) error {
	ctx, span := s.start(ctx, "insert_author", attribute.String("author.name", author.Name))
	defer span.End()

	if author.ID == uuid.Nil {
		author.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO authors (id, name, born) VALUES ($1, $2, $3)`,
		author.ID, author.Name, nullInt(author.Born))
	if err != nil {
		return s.fail(span, "insert author", err)
	}
	return nil
}

func (s *Store) UpdateAuthor(ctx context.Context, author *catalog.Author) error {
	ctx, span := s.start(ctx, "update_author", attribute.String("author.id", author.ID.String()))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE authors SET name = $1, born = $2 WHERE id = $3`,
		author.Name, nullInt(author.Born), author.ID)
	if err != nil {
		return s.fail(span, "update author", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(span, "update author", err)
	}
	if n == 0 {
		return s.fail(span, "update author", sql.ErrNoRows)
	}
	return nil
}

func (s *Store) ListAuthors(ctx context.Context) ([]*catalog.Author, error) {
	ctx, span := s.start(ctx, "list_authors")
	defer span.End()

	var rows []authorRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, born FROM authors ORDER BY name`); err != nil {
		return nil, s.fail(span, "list authors", err)
	}
	out := make([]*catalog.Author, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.author())
	}
	span.SetAttributes(attribute.Int("authors.loaded", len(out)))
	return out, nil
}

func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	return s.count(ctx, "count_authors", `SELECT COUNT(*) FROM authors`)
}

func (s *Store) CountBooksByAuthor(ctx context.Context, authorID uuid.UUID) (int, error) {
	return s.count(ctx, "count_books_by_author", `SELECT COUNT(*) FROM books WHERE author_id = $1`, authorID)
}

func (s *Store) FindBookByTitle(ctx context.Context, title string) (*catalog.Book, error) {
	ctx, span := s.start(ctx, "find_book_by_title", attribute.String("book.title", title))
	defer span.End()

	var row bookRow
	if err := s.db.GetContext(ctx, &row, selectBooks+` WHERE b.title = $1`, title); err != nil {
		return nil, s.fail(span, "find book", err)
	}
	return row.book(), nil
}

func (s *Store) InsertBook(ctx context.Context, book *catalog.Book) error {
	ctx, span := s.start(ctx, "insert_book",
		attribute.String("book.title", book.Title),
		attribute.String("author.id", book.AuthorID.String()),
	)
	defer span.End()

	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, published, genres, author_id)
		VALUES ($1, $2, $3, $4, $5)
	`, book.ID, book.Title, book.Published, pq.StringArray(book.Genres), book.AuthorID)
	if err != nil {
		return s.fail(span, "insert book", err)
	}
	return nil
}

func (s *Store) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	ctx, span := s.start(ctx, "list_books")
	defer span.End()

	var rows []bookRow
	if err := s.db.SelectContext(ctx, &rows, selectBooks+` ORDER BY b.created_at, b.title`); err != nil {
		return nil, s.fail(span, "list books", err)
	}
	out := make([]*catalog.Book, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.book())
	}
	span.SetAttributes(attribute.Int("books.loaded", len(out)))
	return out, nil
}

func (s *Store) CountBooks(ctx context.Context) (int, error) {
	return s.count(ctx, "count_books", `SELECT COUNT(*) FROM books`)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*catalog.User, error) {
	ctx, span := s.start(ctx, "find_user_by_username", attribute.String("user.name", username))
	defer span.End()

	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, username, favorite_genre FROM users WHERE username = $1`, username)
	if err != nil {
		return nil, s.fail(span, "find user", err)
	}
	return row.user(), nil
}

func (s *Store) FindUserByID(ctx context.Context, id uuid.UUID) (*catalog.User, error) {
	ctx, span := s.start(ctx, "find_user_by_id", attribute.String("user.id", id.String()))
	defer span.End()

	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, username, favorite_genre FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, s.fail(span, "find user", err)
	}
	return row.user(), nil
}

func (s *Store) InsertUser(ctx context.Context, user *catalog.User) error {
	ctx, span := s.start(ctx, "insert_user", attribute.String("user.name", user.Username))
	defer span.End()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, favorite_genre) VALUES ($1, $2, $3)`,
		user.ID, user.Username, user.FavoriteGenre)
	if err != nil {
		return s.fail(span, "insert user", err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, name, query string, args ...interface{}) (int, error) {
	ctx, span := s.start(ctx, name)
	defer span.End()

	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, s.fail(span, name, err)
	}
	return n, nil
}

func (s *Store) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "store."+name, trace.WithAttributes(attrs...))
}

// fail maps driver errors onto the catalog sentinels and records real failures on span.
func (s *Store) fail(span trace.Span, op string, err error) error {
	err = classify(err)
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrConflict) {
		span.SetAttributes(attribute.String("store.outcome", err.Error()))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return fmt.Errorf("%s: %w", op, err)
}

func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return catalog.ErrConflict
		case codeForeignKeyViolation:
			return catalog.ErrNotFound
		}
	}
	return err
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
