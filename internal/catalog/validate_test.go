package catalog

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidateNewBookTitleBoundary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		title := rapid.StringN(0, 12, -1).Draw(t, "title")
		in := NewBookInput{Title: title, Published: 2000, Author: "Some Author", Genres: []string{"x"}}
		err := ValidateNewBook(in)
		if utf8.RuneCountInString(title) >= 3 {
			if err != nil {
				t.Fatalf("title %q rejected: %v", title, err)
			}
			return
		}
		if !IsKind(err, KindBadUserInput) {
			t.Fatalf("title %q accepted", title)
		}
		if err.(*Error).Field != "title" {
			t.Fatalf("field = %q, want title", err.(*Error).Field)
		}
	})
}

func TestValidateNewBookPublishedBoundary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		year := rapid.IntRange(-5000, 5000).Draw(t, "published")
		err := ValidateNewBook(NewBookInput{Title: "Title", Published: year, Author: "Author", Genres: []string{"x"}})
		if (year >= 0) != (err == nil) {
			t.Fatalf("published %d: err = %v", year, err)
		}
	})
}

func TestValidateNewUserFavoriteGenre(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		genre := rapid.SampledFrom([]string{"", " ", "\t", "  \n", "crime", " crime ", "x"}).Draw(t, "genre")
		err := ValidateNewUser(NewUserInput{Username: "alice", FavoriteGenre: genre})
		blank := strings.TrimSpace(genre) == ""
		if blank != (err != nil) {
			t.Fatalf("favoriteGenre %q: err = %v", genre, err)
		}
	})
}

func TestValidatorMessages(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		field string
		msg   string
	}{
		{"title", ValidateNewBook(NewBookInput{Title: "Go", Author: "Author", Genres: []string{"x"}}), "title", "title must be at least 3 characters long"},
		{"genres", ValidateNewBook(NewBookInput{Title: "Title", Author: "Author"}), "genres", "genres must contain at least 1 entry"},
		{"published", ValidateNewBook(NewBookInput{Title: "Title", Published: -3, Author: "Author", Genres: []string{"x"}}), "published", "published must not be less than 0"},
		{"author name", ValidateAuthorEdit(EditAuthorInput{Name: "Al"}), "name", "name must be at least 3 characters long"},
		{"favorite genre", ValidateNewUser(NewUserInput{Username: "alice", FavoriteGenre: "  "}), "favoriteGenre", "favoriteGenre cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			ce, ok := tt.err.(*Error)
			require.True(t, ok)
			assert.Equal(t, KindBadUserInput, ce.Kind)
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, tt.msg, ce.Message)
		})
	}
}

func TestValidInputsPass(t *testing.T) {
	assert.NoError(t, ValidateNewBook(NewBookInput{Title: "Refactoring", Published: 0, Author: "Martin Fowler", Genres: []string{"refactoring"}}))
	assert.NoError(t, ValidateAuthorEdit(EditAuthorInput{Name: "Tom", SetBornTo: -400}))
	assert.NoError(t, ValidateNewUser(NewUserInput{Username: "bob", FavoriteGenre: "crime"}))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.Equal(t, KindStorageFailure, KindOf(storageFailure("x", assert.AnError)))
	assert.ErrorIs(t, storageFailure("x", ErrNotFound), ErrNotFound)
	assert.Equal(t, "addBook: user not authenticated", unauthenticated("addBook").Error())
}
