// Package securestore defines the platform secure storage contract used for
// device identity. Two independent stores exist: one scoped to the device and
// one synchronized through the platform account, each addressed by a fixed
// namespace.
package securestore

import (
	"context"

	"github.com/arcanalabs/identity/internal/platform/errors"
)

// ErrNotFound indicates the namespace/key pair holds no value.
var ErrNotFound = errors.New(errors.CodeNotFound, "secure store entry not found")

// Versioned namespaces. These strings are burned into entries already sitting
// on devices and in platform accounts: changing one orphans every identity it
// guards. Bump the version suffix only with a migration path for both.
const (
	// NamespaceDevice scopes entries to this device. Survives app
	// reinstalls on platforms whose secure storage outlives the app.
	NamespaceDevice = "arcana.device.v1"

	// NamespaceCloud scopes entries to the platform account and follows the
	// user across devices and reinstalls.
	NamespaceCloud = "arcana.device.sync.v1"
)

// KeyDeviceID is the single key identity resolution uses in either namespace.
const KeyDeviceID = "device_id"

// Store reads and writes secrets under a namespace.
type Store interface {
	Read(ctx context.Context, namespace string, key string) (string, error)
	Write(ctx context.Context, namespace string, key string, value string) error
	// Delete removes an entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, namespace string, key string) error
}
