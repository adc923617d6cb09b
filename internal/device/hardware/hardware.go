// Package hardware queries the operating system for a stable hardware-derived
// identifier. Lookups are best-effort: an error means the platform has no
// usable identifier, never that resolution should fail.
package hardware

import (
	"context"
	"os"
	"os/exec"
)

// Provider returns a hardware-derived identifier for this device.
type Provider interface {
	// ID returns the identifier, stable across reinstalls and app updates.
	// An error reports the identifier as absent on this device.
	ID(ctx context.Context) (string, error)
}

// CommandExecutor runs a platform command and returns its combined output.
// Injected in tests to replace real system commands.
type CommandExecutor func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultExecutor(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func defaultReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
