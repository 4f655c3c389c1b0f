package clients

import (
	"context"
	"fmt"

	"librarycatalog/internal/catalog"
)

// Watch keeps cache in sync with the server until ctx is done. It subscribes first
// and loads allBooks afterwards, so no book added in between is missed; books seen
// both ways are merged once. onNew, if set, is called for every book that was not
// cached yet, loaded ones included.
func Watch(ctx context.Context, client *CatalogClient, cache *BookCache, onNew func(catalog.Book)) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	books, errs, err := client.SubscribeBookAdded(subCtx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	initial, err := client.AllBooks(ctx, catalog.BooksFilter{})
	if err != nil {
		return fmt.Errorf("load books: %w", err)
	}
	for _, book := range initial {
		if book != nil && cache.Merge(*book) && onNew != nil {
			onNew(*book)
		}
	}

	for book := range books {
		if cache.Merge(book) && onNew != nil {
			onNew(book)
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	return ctx.Err()
}

// AddBook creates a book and merges the result right away. The subscription push
// for the same book is then a no-op.
func AddBook(ctx context.Context, client *CatalogClient, cache *BookCache, in catalog.NewBookInput) (*catalog.Book, error) {
	book, err := client.AddBook(ctx, in)
	if err != nil {
		return nil, err
	}
	cache.Merge(*book)
	return book, nil
}
