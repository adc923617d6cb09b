// Package deviceid wires the on-device identity resolver into a command.
//
// The command composes the real adapters (SQLite preferences, sealed-file
// secure store, cloud vault, hardware lookup, directory client) from the
// environment, resolves the device identity once, and prints it.
package deviceid

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	entrypoint "github.com/arcanalabs/identity/internal/platform/cmd"

	"github.com/arcanalabs/identity/internal/device/deviceid"
	devicedirectory "github.com/arcanalabs/identity/internal/device/directory"
	"github.com/arcanalabs/identity/internal/device/hardware"
	prefssqlite "github.com/arcanalabs/identity/internal/device/prefs/sqlite"
	"github.com/arcanalabs/identity/internal/device/securestore/cloudvault"
	"github.com/arcanalabs/identity/internal/device/securestore/localfile"
	"github.com/arcanalabs/identity/internal/services/directory/token"
)

// Config holds deviceid command configuration.
type Config struct {
	DataDir      string `env:"ARCANA_DEVICE_DATA_DIR"      envDefault:"data/device"`
	Platform     string `env:"ARCANA_DEVICE_PLATFORM"`
	HardwareSalt string `env:"ARCANA_DEVICE_HARDWARE_SALT" envDefault:"arcana"`
	DirectoryURL string `env:"ARCANA_DIRECTORY_URL"`
	// DirectoryPrivateKey signs directory request tokens (base64 ed25519).
	DirectoryPrivateKey string `env:"ARCANA_DIRECTORY_TOKEN_PRIVATE_KEY"`
	VaultURL            string `env:"ARCANA_VAULT_URL"`
	VaultAccountToken   string `env:"ARCANA_VAULT_ACCOUNT_TOKEN"`

	Reset               bool
	JSON                bool
	CompleteFirstLaunch bool
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for device identity data")
	fs.StringVar(&cfg.Platform, "platform", cfg.Platform, "Platform override (defaults to the host OS)")
	fs.StringVar(&cfg.DirectoryURL, "directory-url", cfg.DirectoryURL, "Identity directory base URL")
	fs.BoolVar(&cfg.Reset, "reset", cfg.Reset, "Clear the stored identity and exit")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "Print the identity as JSON")
	fs.BoolVar(&cfg.CompleteFirstLaunch, "complete-first-launch", cfg.CompleteFirstLaunch, "Mark the first launch complete after resolving")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run resolves the device identity and writes the result to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDeviceID, func(ctx context.Context) error {
		resolver, closeStores, err := newResolver(cfg)
		if err != nil {
			return err
		}
		defer closeStores()

		if cfg.Reset {
			if err := resolver.Reset(ctx); err != nil {
				return fmt.Errorf("reset device identity: %w", err)
			}
			_, err := fmt.Fprintln(out, "device identity cleared")
			return err
		}

		identity := resolver.Initialize(ctx)
		firstLaunch := resolver.IsFirstLaunch()
		if cfg.CompleteFirstLaunch && firstLaunch {
			if err := resolver.MarkFirstLaunchComplete(ctx); err != nil {
				return fmt.Errorf("mark first launch complete: %w", err)
			}
		}

		if cfg.JSON {
			return json.NewEncoder(out).Encode(struct {
				ID          string `json:"id"`
				Source      string `json:"source"`
				FirstLaunch bool   `json:"first_launch"`
			}{
				ID:          identity.ID,
				Source:      string(identity.Source),
				FirstLaunch: firstLaunch,
			})
		}
		_, err = fmt.Fprintf(out, "id: %s\nsource: %s\nfirst launch: %t\n", identity.ID, identity.Source, firstLaunch)
		return err
	})
}

// newResolver builds the resolver from real adapters. The returned cleanup
// closes the preference store.
func newResolver(cfg Config) (*deviceid.Resolver, func(), error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, nil, errors.New("device data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create device data dir: %w", err)
	}

	capabilities := detectCapabilities(cfg)

	prefStore, err := prefssqlite.Open(filepath.Join(dataDir, "prefs.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open preference store: %w", err)
	}
	closeStores := func() {
		if err := prefStore.Close(); err != nil {
			log.Printf("close preference store: %v", err)
		}
	}

	deviceSecure, err := localfile.Open(filepath.Join(dataDir, "secure"))
	if err != nil {
		closeStores()
		return nil, nil, fmt.Errorf("open device secure store: %w", err)
	}

	resolverCfg := deviceid.Config{
		Prefs:        prefStore,
		DeviceSecure: deviceSecure,
		Capabilities: capabilities,
	}

	if capabilities.HasCloudSecureStore {
		cloudSecure, err := cloudvault.New(cloudvault.Config{
			BaseURL:      cfg.VaultURL,
			AccountToken: cfg.VaultAccountToken,
		})
		if err != nil {
			closeStores()
			return nil, nil, fmt.Errorf("build cloud vault client: %w", err)
		}
		resolverCfg.CloudSecure = cloudSecure
	}

	if capabilities.HasHardwareID {
		signer, err := newSigner(cfg.DirectoryPrivateKey)
		if err != nil {
			closeStores()
			return nil, nil, err
		}
		directoryClient, err := devicedirectory.NewClient(devicedirectory.Config{
			BaseURL: cfg.DirectoryURL,
			Signer:  signer,
		})
		if err != nil {
			closeStores()
			return nil, nil, fmt.Errorf("build directory client: %w", err)
		}
		resolverCfg.Hardware = hardware.NewMachineID(hardware.Config{Salt: cfg.HardwareSalt})
		resolverCfg.Directory = directoryClient
	}

	resolver, err := deviceid.New(resolverCfg)
	if err != nil {
		closeStores()
		return nil, nil, err
	}
	return resolver, closeStores, nil
}

// detectCapabilities derives the capability descriptor from the platform and
// downgrades capabilities whose backends are not configured, so a developer
// box without a directory URL still resolves locally.
func detectCapabilities(cfg Config) deviceid.Capabilities {
	platform := strings.TrimSpace(cfg.Platform)
	if platform == "" {
		platform = runtime.GOOS
	}
	capabilities := deviceid.DetectCapabilities(platform)
	if capabilities.HasHardwareID && strings.TrimSpace(cfg.DirectoryURL) == "" {
		log.Printf("deviceid: no directory URL configured; resolving without the identity directory")
		capabilities.HasHardwareID = false
	}
	if capabilities.HasCloudSecureStore && strings.TrimSpace(cfg.VaultURL) == "" {
		log.Printf("deviceid: no vault URL configured; resolving without the cloud secure store")
		capabilities.HasCloudSecureStore = false
	}
	return capabilities
}

func newSigner(encodedKey string) (*token.Signer, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, nil
	}
	key, err := token.DecodePrivateKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("directory token private key: %w", err)
	}
	return token.NewSigner(token.SignerConfig{Key: key})
}
