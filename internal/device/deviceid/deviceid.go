// Package deviceid resolves and owns the durable device identity.
//
// A Resolver combines the local preference store, the platform secure
// stores, the hardware identifier provider, and the remote identity
// directory into a single state machine that always terminates in a
// usable id, even with every backend offline. Callers construct one
// Resolver per process and share it; there is no package-level instance.
package deviceid

import "runtime"

// Source records where the currently held id came from. It exists for
// diagnostics only; no behavior branches on it after resolution.
type Source string

const (
	// SourceLocalStore marks an id read from the local preference store.
	SourceLocalStore Source = "local_store"
	// SourceLocalSecureStore marks an id recovered from the device-local
	// secure store.
	SourceLocalSecureStore Source = "local_secure_store"
	// SourceCloudSecureStore marks an id recovered from the
	// cloud-synchronized secure store after a reinstall.
	SourceCloudSecureStore Source = "cloud_secure_store"
	// SourceHardwareLookup marks an id recovered from the directory by
	// hardware identifier.
	SourceHardwareLookup Source = "hardware_lookup"
	// SourceDirectoryLookup marks a locally stored id that the directory
	// confirmed as a live record.
	SourceDirectoryLookup Source = "directory_lookup"
	// SourceGenerated marks a freshly generated id.
	SourceGenerated Source = "generated"
)

// State is the resolver lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateResolving     State = "resolving"
	StateResolved      State = "resolved"
)

// Identity is the resolved device identity.
type Identity struct {
	ID     string `json:"id"`
	Source Source `json:"source"`
}

// Capabilities describes which recovery backends the platform offers.
// The resolver picks its resolution strategy from this descriptor once,
// at construction.
type Capabilities struct {
	// HasHardwareID is set on platforms with a stable hardware identifier
	// that survives reinstall. Recovery goes through the directory.
	HasHardwareID bool
	// HasCloudSecureStore is set on platforms whose secure store offers a
	// cloud-synchronized namespace that survives reinstall.
	HasCloudSecureStore bool
}

// DetectCapabilities maps an operating system name, as reported by
// runtime.GOOS, to its platform capabilities.
func DetectCapabilities(goos string) Capabilities {
	switch goos {
	case "linux", "android":
		return Capabilities{HasHardwareID: true}
	case "darwin", "ios":
		return Capabilities{HasCloudSecureStore: true}
	default:
		return Capabilities{}
	}
}

// HostCapabilities returns the capabilities of the running host.
func HostCapabilities() Capabilities {
	return DetectCapabilities(runtime.GOOS)
}

// Backend names used in diagnostics.
const (
	BackendLocalStore        = "local_store"
	BackendDeviceSecureStore = "device_secure_store"
	BackendCloudSecureStore  = "cloud_secure_store"
	BackendHardware          = "hardware"
	BackendDirectory         = "directory"
	BackendGenerator         = "generator"
)

// Diagnostic reports a degraded step. Resolution never surfaces backend
// failures to callers; they flow through the diagnostic hook instead.
type Diagnostic struct {
	Op      string
	Backend string
	Err     error
}
