package hardware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/arcanalabs/identity/internal/platform/timeouts"
)

// machineIDFiles are consulted in order; the first non-empty value wins.
var machineIDFiles = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

// registryCommand is the last-resort lookup on devices that expose the
// serial through the property registry instead of the filesystem.
var registryCommand = []string{"getprop", "ro.serialno"}

// Config configures a MachineID provider.
type Config struct {
	// Salt mixes an application-specific string into the hash so the raw
	// platform value never leaves the process and unrelated apps on the
	// same device derive different identifiers.
	Salt string
	// ReadFile overrides filesystem access in tests.
	ReadFile func(path string) ([]byte, error)
	// Execute overrides the registry command in tests.
	Execute CommandExecutor
}

// MachineID derives a hardware identifier from the platform machine id.
// The first successful lookup is cached for the life of the provider.
type MachineID struct {
	salt     string
	readFile func(path string) ([]byte, error)
	execute  CommandExecutor

	mu     sync.Mutex
	cached string
}

var _ Provider = (*MachineID)(nil)

// NewMachineID builds a provider with defaults filled in.
func NewMachineID(cfg Config) *MachineID {
	readFile := cfg.ReadFile
	if readFile == nil {
		readFile = defaultReadFile
	}
	execute := cfg.Execute
	if execute == nil {
		execute = defaultExecutor
	}
	return &MachineID{
		salt:     cfg.Salt,
		readFile: readFile,
		execute:  execute,
	}
}

// ID returns the salted hash of the platform machine id.
func (p *MachineID) ID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := p.rawID(ctx)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(p.salt + ":" + raw))
	p.cached = hex.EncodeToString(digest[:])
	return p.cached, nil
}

func (p *MachineID) rawID(ctx context.Context) (string, error) {
	for _, path := range machineIDFiles {
		content, err := p.readFile(path)
		if err != nil {
			continue
		}
		if value := strings.TrimSpace(string(content)); value != "" {
			return value, nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeouts.HardwareLookup)
	defer cancel()
	output, err := p.execute(execCtx, registryCommand[0], registryCommand[1:]...)
	if err == nil {
		if value := strings.TrimSpace(string(output)); value != "" && value != "unknown" {
			return value, nil
		}
	}

	return "", fmt.Errorf("no hardware identifier available")
}
