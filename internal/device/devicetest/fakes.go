// Package devicetest provides in-memory fakes for the device identity
// adapters. Every fake is safe for concurrent use and supports failure
// injection so degradation paths can be exercised without real backends.
package devicetest

import (
	"context"
	"strconv"
	"sync"

	"github.com/arcanalabs/identity/internal/device/directory"
	"github.com/arcanalabs/identity/internal/device/prefs"
	"github.com/arcanalabs/identity/internal/device/securestore"
)

// Prefs is an in-memory prefs.Store fake.
type Prefs struct {
	mu     sync.Mutex
	values map[string]string

	// ReadErr and WriteErr, when set, fail the corresponding operations.
	ReadErr  error
	WriteErr error
}

var _ prefs.Store = (*Prefs)(nil)

// NewPrefs constructs an empty preference store fake.
func NewPrefs() *Prefs {
	return &Prefs{values: make(map[string]string)}
}

// Seed sets a string value without going through the Store interface.
func (p *Prefs) Seed(key string, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// SeedBool sets a boolean value without going through the Store interface.
func (p *Prefs) SeedBool(key string, value bool) {
	p.Seed(key, strconv.FormatBool(value))
}

// Value returns the stored string and whether the key exists.
func (p *Prefs) Value(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.values[key]
	return value, ok
}

func (p *Prefs) GetString(_ context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return "", p.ReadErr
	}
	value, ok := p.values[key]
	if !ok {
		return "", prefs.ErrNotFound
	}
	return value, nil
}

func (p *Prefs) SetString(_ context.Context, key string, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	p.values[key] = value
	return nil
}

func (p *Prefs) GetBool(ctx context.Context, key string) (bool, error) {
	value, err := p.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func (p *Prefs) SetBool(ctx context.Context, key string, value bool) error {
	return p.SetString(ctx, key, strconv.FormatBool(value))
}

func (p *Prefs) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	delete(p.values, key)
	return nil
}

// SecureStore is an in-memory securestore.Store fake.
type SecureStore struct {
	mu      sync.Mutex
	entries map[string]string

	// ReadErr, WriteErr, and DeleteErr, when set, fail the corresponding
	// operations.
	ReadErr   error
	WriteErr  error
	DeleteErr error

	// OnWrite, when set, observes successful writes. Called outside the
	// store lock so observers may read the store.
	OnWrite func(namespace string, key string, value string)
}

var _ securestore.Store = (*SecureStore)(nil)

// NewSecureStore constructs an empty secure store fake.
func NewSecureStore() *SecureStore {
	return &SecureStore{entries: make(map[string]string)}
}

// Seed sets an entry without going through the Store interface.
func (s *SecureStore) Seed(namespace string, key string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[namespace+"/"+key] = value
}

// Value returns the stored entry and whether it exists.
func (s *SecureStore) Value(namespace string, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[namespace+"/"+key]
	return value, ok
}

func (s *SecureStore) Read(_ context.Context, namespace string, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return "", s.ReadErr
	}
	value, ok := s.entries[namespace+"/"+key]
	if !ok {
		return "", securestore.ErrNotFound
	}
	return value, nil
}

func (s *SecureStore) Write(_ context.Context, namespace string, key string, value string) error {
	s.mu.Lock()
	if s.WriteErr != nil {
		err := s.WriteErr
		s.mu.Unlock()
		return err
	}
	s.entries[namespace+"/"+key] = value
	observer := s.OnWrite
	s.mu.Unlock()

	if observer != nil {
		observer(namespace, key, value)
	}
	return nil
}

func (s *SecureStore) Delete(_ context.Context, namespace string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.entries, namespace+"/"+key)
	return nil
}

// Hardware is a hardware.Provider fake.
type Hardware struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

// NewHardware constructs a provider fake returning value, or err when set.
func NewHardware(value string, err error) *Hardware {
	return &Hardware{value: value, err: err}
}

func (h *Hardware) ID(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return h.value, nil
}

// Calls returns how many lookups ran.
func (h *Hardware) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// UpsertCall records one UpsertHardwareID invocation.
type UpsertCall struct {
	UserID     string
	HardwareID string
}

// Directory is an in-memory directory.Client fake.
type Directory struct {
	mu         sync.Mutex
	users      map[string]directory.User
	byHardware map[string]string

	// GetErr, FindErr, and UpsertErr, when set, fail the corresponding
	// operations.
	GetErr    error
	FindErr   error
	UpsertErr error

	upserts []UpsertCall
}

var _ directory.Client = (*Directory)(nil)

// NewDirectory constructs an empty directory fake.
func NewDirectory() *Directory {
	return &Directory{
		users:      make(map[string]directory.User),
		byHardware: make(map[string]string),
	}
}

// SeedUser stores a record, indexing any hardware association.
func (d *Directory) SeedUser(user directory.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
	if user.HardwareID != "" {
		d.byHardware[user.HardwareID] = user.ID
	}
}

// User returns the stored record and whether it exists.
func (d *Directory) User(id string) (directory.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	return user, ok
}

// Upserts returns the recorded UpsertHardwareID calls.
func (d *Directory) Upserts() []UpsertCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]UpsertCall, len(d.upserts))
	copy(out, d.upserts)
	return out
}

func (d *Directory) GetUser(_ context.Context, id string) (directory.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.GetErr != nil {
		return directory.User{}, d.GetErr
	}
	user, ok := d.users[id]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return user, nil
}

func (d *Directory) FindUserByHardwareID(_ context.Context, hardwareID string) (directory.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FindErr != nil {
		return directory.User{}, d.FindErr
	}
	id, ok := d.byHardware[hardwareID]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return d.users[id], nil
}

func (d *Directory) UpsertHardwareID(_ context.Context, userID string, hardwareID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.UpsertErr != nil {
		return d.UpsertErr
	}
	d.upserts = append(d.upserts, UpsertCall{UserID: userID, HardwareID: hardwareID})
	user, ok := d.users[userID]
	if !ok {
		user = directory.User{ID: userID}
	}
	user.HardwareID = hardwareID
	d.users[userID] = user
	d.byHardware[hardwareID] = userID
	return nil
}
