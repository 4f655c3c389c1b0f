package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/store/storetest"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupTestDB connects to the database described by the PG* variables and skips the
// test when it is unreachable.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("PGHOST", "localhost"),
		getenv("PGPORT", "5432"),
		getenv("PGUSER", "user"),
		getenv("PGPASSWORD", "password"),
		getenv("PGDATABASE", "testdb"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	db, err := Open(ctx, connStr, time.Second)
	if err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, New(db).Migrate(context.Background()))
	return db
}

func TestStoreContract(t *testing.T) {
	db := setupTestDB(t)
	storetest.Run(t, func(t *testing.T) catalog.Store {
		_, err := db.Exec(`TRUNCATE TABLE books, authors, users CASCADE`)
		require.NoError(t, err)
		return New(db)
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, New(db).Migrate(context.Background()))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(fmt.Errorf("wrapped: %w", sql.ErrNoRows)), catalog.ErrNotFound)
	assert.ErrorIs(t, classify(&pq.Error{Code: codeUniqueViolation}), catalog.ErrConflict)
	assert.ErrorIs(t, classify(&pq.Error{Code: codeForeignKeyViolation}), catalog.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, classify(other))
}
