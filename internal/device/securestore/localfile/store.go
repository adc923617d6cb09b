// Package localfile implements the device-local secure store as sealed files
// under an app data directory. Entries are encrypted at rest with a per-entry
// key derived from a master key that never leaves the directory.
package localfile

import (
	"context"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arcanalabs/identity/internal/device/securestore"
	"github.com/arcanalabs/identity/internal/platform/errors"
)

const masterKeyFile = "master.key"
const masterKeySize = 32

// Store is a securestore.Store backed by sealed files.
type Store struct {
	dir       string
	mu        sync.Mutex
	masterKey []byte
}

var _ securestore.Store = (*Store)(nil)

// Open prepares dir for sealed entries, creating the master key on first use.
// The directory survives app updates; uninstalling removes it, which is the
// expected lifetime for the device-local namespace.
func Open(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("secure store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secure store directory: %w", err)
	}

	key, err := loadOrCreateMasterKey(filepath.Join(dir, masterKeyFile))
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, masterKey: key}, nil
}

// Read returns the plaintext value stored under namespace/key.
func (s *Store) Read(ctx context.Context, namespace string, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.entryPath(namespace, key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", securestore.ErrNotFound
		}
		return "", errors.WrapWithMetadata(errors.CodePersistenceFailure, "read secure entry",
			map[string]string{"namespace": namespace, "key": key}, err)
	}

	entrySealer, err := s.sealerFor(namespace, key)
	if err != nil {
		return "", err
	}
	value, err := entrySealer.open(string(payload))
	if err != nil {
		return "", errors.WrapWithMetadata(errors.CodePersistenceFailure, "unseal secure entry",
			map[string]string{"namespace": namespace, "key": key}, err)
	}
	return value, nil
}

// Write seals value and stores it under namespace/key.
func (s *Store) Write(ctx context.Context, namespace string, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.entryPath(namespace, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entrySealer, err := s.sealerFor(namespace, key)
	if err != nil {
		return err
	}
	sealed, err := entrySealer.seal(value)
	if err != nil {
		return errors.WrapWithMetadata(errors.CodePersistenceFailure, "seal secure entry",
			map[string]string{"namespace": namespace, "key": key}, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.WrapWithMetadata(errors.CodePersistenceFailure, "create namespace directory",
			map[string]string{"namespace": namespace}, err)
	}
	if err := os.WriteFile(path, []byte(sealed), 0o600); err != nil {
		return errors.WrapWithMetadata(errors.CodePersistenceFailure, "write secure entry",
			map[string]string{"namespace": namespace, "key": key}, err)
	}
	return nil
}

// Delete removes the entry under namespace/key. Absent entries are not an error.
func (s *Store) Delete(ctx context.Context, namespace string, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.entryPath(namespace, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapWithMetadata(errors.CodePersistenceFailure, "delete secure entry",
			map[string]string{"namespace": namespace, "key": key}, err)
	}
	return nil
}

// sealerFor derives the entry key so a sealed payload only opens at its own
// namespace/key location.
func (s *Store) sealerFor(namespace string, key string) (*sealer, error) {
	entryKey, err := hkdf.Key(sha256.New, s.masterKey, nil, "entry:"+namespace+"/"+key, 32)
	if err != nil {
		return nil, fmt.Errorf("derive entry key: %w", err)
	}
	return newSealer(entryKey)
}

func (s *Store) entryPath(namespace string, key string) (string, error) {
	if err := validateComponent("namespace", namespace); err != nil {
		return "", err
	}
	if err := validateComponent("key", key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, namespace, key), nil
}

func validateComponent(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.ContainsAny(value, "/\\") || value == "." || value == ".." {
		return fmt.Errorf("%s contains path separators", field)
	}
	return nil
}

func loadOrCreateMasterKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != masterKeySize {
			return nil, fmt.Errorf("master key has %d bytes, want %d", len(key), masterKeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key = make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	return key, nil
}
