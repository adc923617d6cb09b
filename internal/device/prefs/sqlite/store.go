// Package sqlite persists device preferences in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcanalabs/identity/internal/device/prefs"
	"github.com/arcanalabs/identity/internal/device/prefs/sqlite/migrations"
	"github.com/arcanalabs/identity/internal/platform/storage/sqlitemigrate"
)

// Store persists preferences in one SQLite database file.
type Store struct {
	sqlDB *sql.DB
}

var _ prefs.Store = (*Store)(nil)

// Open opens or creates the SQLite database at path and applies migrations.
func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetString returns the stored value for key.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("preference key is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT value FROM preferences WHERE key = ?`,
		key,
	)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", prefs.ErrNotFound
		}
		return "", fmt.Errorf("get preference: %w", err)
	}
	return value, nil
}

// SetString stores value under key, replacing any previous value.
func (s *Store) SetString(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("preference key is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO preferences (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		key,
		value,
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// GetBool returns the stored boolean value for key.
func (s *Store) GetBool(ctx context.Context, key string) (bool, error) {
	raw, err := s.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse preference %s: %w", key, err)
	}
	return value, nil
}

// SetBool stores a boolean value under key.
func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(value))
}

// Remove deletes the value stored under key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("preference key is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM preferences WHERE key = ?`,
		key,
	)
	if err != nil {
		return fmt.Errorf("remove preference: %w", err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}
