// Package directory parses directory service flags and launches the service.
package directory

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	entrypoint "github.com/arcanalabs/identity/internal/platform/cmd"
	directoryserver "github.com/arcanalabs/identity/internal/services/directory"
	storagesqlite "github.com/arcanalabs/identity/internal/services/directory/storage/sqlite"
	"github.com/arcanalabs/identity/internal/services/directory/token"
)

// Config holds directory command configuration.
type Config struct {
	Port   int    `env:"ARCANA_DIRECTORY_PORT"    envDefault:"8090"`
	DBPath string `env:"ARCANA_DIRECTORY_DB_PATH" envDefault:"data/directory.db"`
	// TokenPublicKey is the base64 ed25519 verification key for device
	// tokens. Leaving it empty disables token checks.
	TokenPublicKey string `env:"ARCANA_DIRECTORY_TOKEN_PUBLIC_KEY"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The directory HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the directory SQLite database")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the directory HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDirectory, func(ctx context.Context) error {
		store, err := openUserStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close directory store: %v", err)
			}
		}()

		verifier, err := newVerifier(cfg.TokenPublicKey)
		if err != nil {
			return err
		}
		if verifier == nil {
			log.Printf("directory token checks disabled; set ARCANA_DIRECTORY_TOKEN_PUBLIC_KEY to enable them")
		}

		server, err := directoryserver.NewServer(ctx, directoryserver.Config{
			HTTPAddr: fmt.Sprintf(":%d", cfg.Port),
			Users:    store,
			Verifier: verifier,
		})
		if err != nil {
			return err
		}
		defer server.Close()

		log.Printf("directory server listening on port %d", cfg.Port)
		return server.ListenAndServe(ctx)
	})
}

func openUserStore(path string) (*storagesqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := storagesqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open directory sqlite store: %w", err)
	}
	return store, nil
}

func newVerifier(encodedKey string) (*token.Verifier, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, nil
	}
	key, err := token.DecodePublicKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("directory token public key: %w", err)
	}
	return token.NewVerifier(token.VerifierConfig{Key: key})
}
