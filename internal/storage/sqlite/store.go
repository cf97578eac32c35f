// Package sqlite provides a SQLite-backed key-value store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/colthorp/localekit-go/internal/storage"
	"github.com/colthorp/localekit-go/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists key-value items in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) a SQLite store at path and applies the
// embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if cleanPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
			return nil, fmt.Errorf("make db dir: %w", err)
		}
	}
	dsn := cleanPath
	if cleanPath != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if cleanPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetItem returns the value stored for key.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.sqlDB == nil {
		return nil, false, storage.ErrUnavailable
	}
	query, args, err := sq.Select("item_value").From("kv_items").Where(sq.Eq{"item_key": key}).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build get query: %w", err)
	}
	var value []byte
	if err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, classify(err)
	}
	return value, true, nil
}

// SetItem upserts value under key.
func (s *Store) SetItem(ctx context.Context, key string, value []byte) error {
	if s == nil || s.sqlDB == nil {
		return storage.ErrUnavailable
	}
	query, args, err := sq.Insert("kv_items").
		Columns("item_key", "item_value", "updated_at").
		Values(key, value, s.now().UTC().UnixMilli()).
		Suffix("ON CONFLICT(item_key) DO UPDATE SET item_value = excluded.item_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set query: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, query, args...); err != nil {
		return classify(err)
	}
	return nil
}

// RemoveItem deletes key.
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if s == nil || s.sqlDB == nil {
		return storage.ErrUnavailable
	}
	query, args, err := sq.Delete("kv_items").Where(sq.Eq{"item_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, query, args...); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_FULL:
			return fmt.Errorf("%w: %v", storage.ErrQuotaExceeded, err)
		case sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_READONLY, sqlite3lib.SQLITE_NOTADB:
			return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
	}
	if strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %v", storage.ErrClosed, err)
	}
	return err
}
