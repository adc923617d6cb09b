// Package sqlite persists directory user records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcanalabs/identity/internal/platform/storage/sqlitemigrate"
	"github.com/arcanalabs/identity/internal/services/directory/storage"
	"github.com/arcanalabs/identity/internal/services/directory/storage/sqlite/migrations"
)

// Store persists user records in one SQLite database file.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.UserStore = (*Store)(nil)

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

// PutUser merges the profile fields into the stored record, creating it
// when absent. Empty profile fields leave the stored values in place;
// the hardware association is never touched here.
func (s *Store) PutUser(ctx context.Context, user storage.User) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(user.ID)
	if id == "" {
		return storage.User{}, fmt.Errorf("user id is required")
	}

	now := toMillis(time.Now())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, hardware_id, display_name, birth_date, created_at, updated_at)
		 VALUES (?, '', ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
		   birth_date = CASE WHEN excluded.birth_date <> '' THEN excluded.birth_date ELSE users.birth_date END,
		   updated_at = excluded.updated_at`,
		id,
		strings.TrimSpace(user.DisplayName),
		strings.TrimSpace(user.BirthDate),
		now,
		now,
	)
	if err != nil {
		return storage.User{}, fmt.Errorf("put user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser returns the record for id.
func (s *Store) GetUser(ctx context.Context, id string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, hardware_id, display_name, birth_date, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

// FindByHardwareID returns the records associated with hardwareID,
// oldest first, at most limit entries.
func (s *Store) FindByHardwareID(ctx context.Context, hardwareID string, limit int) ([]storage.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return nil, fmt.Errorf("hardware id is required")
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, hardware_id, display_name, birth_date, created_at, updated_at
		 FROM users WHERE hardware_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		hardwareID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find by hardware id: %w", err)
	}
	defer rows.Close()

	var users []storage.User
	for rows.Next() {
		var user storage.User
		var createdAt int64
		var updatedAt int64
		if err := rows.Scan(
			&user.ID,
			&user.HardwareID,
			&user.DisplayName,
			&user.BirthDate,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.CreatedAt = fromMillis(createdAt)
		user.UpdatedAt = fromMillis(updatedAt)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpsertHardwareID associates hardwareID with the record for userID,
// creating the record when absent. Profile fields are left untouched.
func (s *Store) UpsertHardwareID(ctx context.Context, userID string, hardwareID string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.User{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	hardwareID = strings.TrimSpace(hardwareID)
	if userID == "" {
		return storage.User{}, fmt.Errorf("user id is required")
	}
	if hardwareID == "" {
		return storage.User{}, fmt.Errorf("hardware id is required")
	}

	now := toMillis(time.Now())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, hardware_id, display_name, birth_date, created_at, updated_at)
		 VALUES (?, ?, '', '', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   hardware_id = excluded.hardware_id,
		   updated_at = excluded.updated_at`,
		userID,
		hardwareID,
		now,
		now,
	)
	if err != nil {
		return storage.User{}, fmt.Errorf("upsert hardware id: %w", err)
	}
	return s.GetUser(ctx, userID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (storage.User, error) {
	var user storage.User
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&user.ID,
		&user.HardwareID,
		&user.DisplayName,
		&user.BirthDate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return user, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
