package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/brigade/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/brigade/internal/services/ledger/storage/integrity"
	"github.com/louisbranch/brigade/internal/services/ledger/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides a SQLite-backed store implementing the ledger storage
// interfaces. A Store opened with OpenEvents serves the journal; one opened
// with OpenProjections serves read models.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
}

// OpenEvents opens a SQLite event journal at path. Every append is sealed
// with keyring.
func OpenEvents(ctx context.Context, path string, keyring *integrity.Keyring) (*Store, error) {
	if keyring == nil {
		return nil, fmt.Errorf("event integrity keyring is required")
	}
	store, err := openStore(ctx, path, migrations.EventsFS, "events")
	if err != nil {
		return nil, err
	}
	store.keyring = keyring
	return store, nil
}

// OpenProjections opens a SQLite projection store at path.
func OpenProjections(ctx context.Context, path string) (*Store, error) {
	return openStore(ctx, path, migrations.ProjectionsFS, "projections")
}

// Close closes the underlying SQLite database.
//
// Close is nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// openStore opens a database, applies its embedded migrations and returns
// the store.
func openStore(ctx context.Context, path string, migrationFS fs.FS, migrationRoot string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	sqlDB, err := sql.Open("sqlite", dsn(filepath.Clean(path)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrationFS, migrationRoot); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// dsn enables WAL, foreign keys and a busy timeout on every pooled
// connection, and makes BEGIN take the write lock immediately.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"
}
