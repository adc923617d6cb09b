// Package storage defines persistence contracts for directory user records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested user record is missing.
var ErrNotFound = errors.New("record not found")

// User stores one directory record. HardwareID carries the reinstall
// recovery association and is never cleared once written.
type User struct {
	ID          string
	HardwareID  string
	DisplayName string
	BirthDate   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserStore persists directory user records with merge-upsert semantics:
// writes touch only the fields they carry and never blank out the rest.
type UserStore interface {
	// PutUser merges the profile fields of user into the stored record,
	// creating it when absent.
	PutUser(ctx context.Context, user User) (User, error)
	// GetUser returns the record for id.
	GetUser(ctx context.Context, id string) (User, error)
	// FindByHardwareID returns the records associated with hardwareID,
	// oldest first, at most limit entries.
	FindByHardwareID(ctx context.Context, hardwareID string, limit int) ([]User, error)
	// UpsertHardwareID associates hardwareID with the record for userID,
	// creating the record when absent. Existing profile fields survive.
	UpsertHardwareID(ctx context.Context, userID string, hardwareID string) (User, error)
}
