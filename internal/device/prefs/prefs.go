// Package prefs defines the local key-value preference store that backs
// device identity state. The store is durable across app restarts and all
// operations complete without network I/O.
package prefs

import (
	"context"

	"github.com/arcanalabs/identity/internal/platform/errors"
)

// ErrNotFound indicates a requested preference key has never been set.
var ErrNotFound = errors.New(errors.CodeNotFound, "preference not found")

// Preference keys for device identity state. These are persisted on devices
// in the field: renaming one strands the value it points at.
const (
	// KeyDeviceID is the canonical location of the resolved device id.
	KeyDeviceID = "device_id"

	// KeyLegacyDeviceID is where early releases stored the id, under the
	// account key of the time. Still read for migration, never written.
	KeyLegacyDeviceID = "user_id"

	// KeyBackupDeviceID holds a local candidate id that resolution replaced
	// with an authoritative directory id. Kept for support and diagnostics;
	// resolution never reads it.
	KeyBackupDeviceID = "backup_device_id"

	// KeyFirstLaunch marks whether the install is still on its first launch.
	// Absent counts as true.
	KeyFirstLaunch = "first_launch"

	// KeyOnboardingComplete belongs to the onboarding flow. Declared here so
	// the key space stays in one place; identity code never touches it.
	KeyOnboardingComplete = "onboarding_complete"
)

// Store persists string and boolean preferences.
type Store interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key string, value string) error
	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	Remove(ctx context.Context, key string) error
}
