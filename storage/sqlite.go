package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/create2-factory-registry/interfaces"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend stores blobs in a single SQLite table keyed by name.
type SQLiteBackend struct {
	db          *sql.DB
	path        string
	log         *slog.Logger
	locationURI string
}

// NewSQLiteBackend opens (creating if needed) the database at path.
// ":memory:" is accepted for tests.
func NewSQLiteBackend(path string, log *slog.Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			stored_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteBackend{
		db:          db,
		path:        path,
		log:         log,
		locationURI: "sqlite://" + path,
	}, nil
}

func (b *SQLiteBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}

	b.log.Debug("Fetched content from sqlite", slog.String("key", key), slog.Int("size", len(data)))
	return data, nil
}

// Store writes data under key, replacing any previous value.
func (b *SQLiteBackend) Store(ctx context.Context, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at
	`, key, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}

	b.log.Debug("Stored content in sqlite", slog.String("key", key), slog.Int("size", len(data)))
	return nil
}

func (b *SQLiteBackend) Available(ctx context.Context) bool {
	if err := b.db.PingContext(ctx); err != nil {
		b.log.Debug("SQLite backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

func (b *SQLiteBackend) LocationURI() string {
	return b.locationURI
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
