// Package directory defines the client contract for the remote identity
// directory: user records keyed by device-resolved id, with an optional
// hardware identifier association used for identity recovery.
package directory

import (
	"context"
	"time"

	"github.com/arcanalabs/identity/internal/platform/errors"
)

// ErrNotFound indicates no directory record matches the lookup.
var ErrNotFound = errors.New(errors.CodeNotFound, "directory user not found")

// User is one directory record.
type User struct {
	ID          string
	HardwareID  string
	DisplayName string
	BirthDate   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Client reads and updates directory records.
//
// Implementations map transport failures to BACKEND_UNAVAILABLE errors and
// missing records to ErrNotFound; resolution treats both as degraded, never
// fatal.
type Client interface {
	// GetUser returns the record stored under id.
	GetUser(ctx context.Context, id string) (User, error)

	// FindUserByHardwareID returns the record associated with hardwareID.
	// When several records match, the oldest wins.
	FindUserByHardwareID(ctx context.Context, hardwareID string) (User, error)

	// UpsertHardwareID associates hardwareID with the record under userID,
	// creating the record when absent. The merge never clears other fields.
	UpsertHardwareID(ctx context.Context, userID string, hardwareID string) error
}
