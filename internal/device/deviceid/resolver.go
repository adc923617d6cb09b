package deviceid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arcanalabs/identity/internal/device/directory"
	"github.com/arcanalabs/identity/internal/device/hardware"
	"github.com/arcanalabs/identity/internal/device/prefs"
	"github.com/arcanalabs/identity/internal/device/securestore"
	"github.com/arcanalabs/identity/internal/platform/id"
)

// Config carries the resolver collaborators. Prefs is always required;
// the capability descriptor decides which of the remaining backends the
// chosen strategy consults.
type Config struct {
	// Prefs is the local preference store. Required.
	Prefs prefs.Store
	// DeviceSecure is the device-local secure store namespace backend.
	DeviceSecure securestore.Store
	// CloudSecure is the cloud-synchronized secure store backend.
	// Required when Capabilities.HasCloudSecureStore is set.
	CloudSecure securestore.Store
	// Hardware provides the stable hardware identifier.
	// Required when Capabilities.HasHardwareID is set.
	Hardware hardware.Provider
	// Directory is the remote identity directory client.
	// Required when Capabilities.HasHardwareID is set.
	Directory directory.Client
	// Capabilities selects the resolution strategy.
	Capabilities Capabilities
	// NewID generates a fresh id. Defaults to id.NewID.
	NewID func() (string, error)
	// OnDiagnostic receives degraded-step reports, including failures of
	// fire-and-forget writes. Defaults to log.Printf.
	OnDiagnostic func(Diagnostic)
}

// Resolver is the device identity state machine. All methods are safe
// for concurrent use.
type Resolver struct {
	device       *prefs.Device
	deviceSecure securestore.Store
	cloudSecure  securestore.Store
	hardware     hardware.Provider
	directory    directory.Client
	capabilities Capabilities
	newID        func() (string, error)
	onDiagnostic func(Diagnostic)

	strategy strategy
	group    singleflight.Group

	fallbackSeq uint64

	mu          sync.Mutex
	generation  uint64
	state       State
	identity    Identity
	provisional *Identity
}

// New builds a Resolver from cfg.
func New(cfg Config) (*Resolver, error) {
	if cfg.Prefs == nil {
		return nil, fmt.Errorf("preference store is required")
	}
	if cfg.Capabilities.HasHardwareID && cfg.Capabilities.HasCloudSecureStore {
		return nil, fmt.Errorf("capabilities must select at most one platform family")
	}
	if cfg.Capabilities.HasHardwareID {
		if cfg.Hardware == nil {
			return nil, fmt.Errorf("hardware provider is required for the hardware id capability")
		}
		if cfg.Directory == nil {
			return nil, fmt.Errorf("directory client is required for the hardware id capability")
		}
	}
	if cfg.Capabilities.HasCloudSecureStore && cfg.CloudSecure == nil {
		return nil, fmt.Errorf("cloud secure store is required for the cloud capability")
	}

	device, err := prefs.NewDevice(cfg.Prefs)
	if err != nil {
		return nil, err
	}

	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	onDiagnostic := cfg.OnDiagnostic
	if onDiagnostic == nil {
		onDiagnostic = func(d Diagnostic) {
			log.Printf("deviceid: %s via %s: %v", d.Op, d.Backend, d.Err)
		}
	}

	r := &Resolver{
		device:       device,
		deviceSecure: cfg.DeviceSecure,
		cloudSecure:  cfg.CloudSecure,
		hardware:     cfg.Hardware,
		directory:    cfg.Directory,
		capabilities: cfg.Capabilities,
		newID:        newID,
		onDiagnostic: onDiagnostic,
		state:        StateUninitialized,
	}
	switch {
	case cfg.Capabilities.HasCloudSecureStore:
		r.strategy = &cloudStrategy{r: r}
	case cfg.Capabilities.HasHardwareID:
		r.strategy = &hardwareStrategy{r: r}
	default:
		r.strategy = &localStrategy{r: r}
	}
	return r, nil
}

// Initialize runs the platform resolution strategy once and returns the
// winning identity. It is idempotent: once resolved, later calls return
// the held identity, and concurrent calls share one in-flight
// resolution. It never fails; total backend loss degrades to a
// generated id.
func (r *Resolver) Initialize(ctx context.Context) Identity {
	r.mu.Lock()
	if r.state == StateResolved {
		identity := r.identity
		r.mu.Unlock()
		return identity
	}
	key := strconv.FormatUint(r.generation, 10)
	r.mu.Unlock()

	result, _, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx), nil
	})
	identity, _ := result.(Identity)
	return identity
}

func (r *Resolver) resolve(ctx context.Context) Identity {
	r.mu.Lock()
	if r.state == StateResolved {
		identity := r.identity
		r.mu.Unlock()
		return identity
	}
	generation := r.generation
	r.state = StateResolving
	r.mu.Unlock()

	identity := r.strategy.resolve(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != generation {
		// A reset raced the resolution; the next Initialize starts over.
		return identity
	}
	r.identity = identity
	r.provisional = nil
	r.state = StateResolved
	return identity
}

// GetOrCreateID returns the device id without ever blocking on the
// network or returning an empty value. Before resolution finishes, it
// falls back to the preference store and, on a miss, generates an id,
// persists it locally, and schedules secure store writes in the
// background. Repeat calls return the same value; a finished resolution
// may replace a pre-resolution fallback only when a backend recovered an
// existing identity.
func (r *Resolver) GetOrCreateID() string {
	r.mu.Lock()
	if r.state == StateResolved {
		value := r.identity.ID
		r.mu.Unlock()
		return value
	}
	if r.provisional != nil {
		value := r.provisional.ID
		r.mu.Unlock()
		return value
	}
	r.mu.Unlock()

	ctx := context.Background()
	if stored := r.readLocalID(ctx); stored != "" {
		identity, _ := r.adopt(Identity{ID: stored, Source: SourceLocalStore})
		return identity.ID
	}

	identity, claimed := r.adopt(Identity{ID: r.generateID(), Source: SourceGenerated})
	if claimed {
		r.persistLocal(ctx, identity.ID)
		r.scheduleSecureWrites(identity.ID)
	}
	return identity.ID
}

// IsFirstLaunch reports whether the install has been marked past its
// first launch. A flag that was never written, or cannot be read,
// counts as a first launch.
func (r *Resolver) IsFirstLaunch() bool {
	first, err := r.device.FirstLaunch(context.Background())
	if err != nil {
		r.diagnose("read_first_launch", BackendLocalStore, err)
		return true
	}
	return first
}

// MarkFirstLaunchComplete clears the first-launch flag.
func (r *Resolver) MarkFirstLaunchComplete(ctx context.Context) error {
	return r.device.SetFirstLaunch(ctx, false)
}

// Reset deletes the identity from every local backend and returns the
// resolver to Uninitialized so the next Initialize resolves from
// scratch. The remote directory record is left in place. Deletion
// failures are joined into the returned error; the state transition
// happens regardless.
func (r *Resolver) Reset(ctx context.Context) error {
	var errs []error
	if err := r.device.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear preferences: %w", err))
	}
	if r.deviceSecure != nil {
		if err := r.deviceSecure.Delete(ctx, securestore.NamespaceDevice, securestore.KeyDeviceID); err != nil {
			errs = append(errs, fmt.Errorf("delete device secure entry: %w", err))
		}
	}
	if r.cloudSecure != nil {
		if err := r.cloudSecure.Delete(ctx, securestore.NamespaceCloud, securestore.KeyDeviceID); err != nil {
			errs = append(errs, fmt.Errorf("delete cloud secure entry: %w", err))
		}
	}

	r.mu.Lock()
	r.generation++
	r.state = StateUninitialized
	r.identity = Identity{}
	r.provisional = nil
	r.mu.Unlock()

	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentIdentity returns the identity the process currently holds and
// whether resolution has completed. Before resolution it returns the
// provisional identity, if any, with resolved == false.
func (r *Resolver) CurrentIdentity() (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateResolved {
		return r.identity, true
	}
	if r.provisional != nil {
		return *r.provisional, false
	}
	return Identity{}, false
}

// adopt installs candidate as the provisional identity unless resolution
// already finished or another caller claimed one first. It reports
// whether candidate won.
func (r *Resolver) adopt(candidate Identity) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateResolved {
		return r.identity, false
	}
	if r.provisional != nil {
		return *r.provisional, false
	}
	r.provisional = &candidate
	return candidate, true
}

// claimCandidate is the shared generate step: it reuses a provisional
// identity claimed earlier in the process so an id handed out by
// GetOrCreateID survives resolution unless a backend recovered a
// different one.
func (r *Resolver) claimCandidate() Identity {
	identity, _ := r.adopt(Identity{ID: r.generateID(), Source: SourceGenerated})
	return identity
}

func (r *Resolver) generateID() string {
	value, err := r.newID()
	if err == nil && value != "" {
		return value
	}
	if err != nil {
		r.diagnose("generate_id", BackendGenerator, err)
	}
	// Last resort: a process-unique value that will not survive restart
	// but keeps the no-empty-id contract intact.
	return fmt.Sprintf("volatile-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&r.fallbackSeq, 1))
}

func (r *Resolver) readLocalID(ctx context.Context) string {
	value, err := r.device.DeviceID(ctx)
	if err != nil {
		if !errors.Is(err, prefs.ErrNotFound) {
			r.diagnose("read_local_id", BackendLocalStore, err)
		}
		return ""
	}
	return value
}

func (r *Resolver) persistLocal(ctx context.Context, deviceID string) {
	if err := r.device.SetDeviceID(ctx, deviceID); err != nil {
		r.diagnose("persist_local_id", BackendLocalStore, err)
	}
}

func (r *Resolver) writeDeviceSecure(ctx context.Context, deviceID string) {
	if r.deviceSecure == nil {
		return
	}
	if err := r.deviceSecure.Write(ctx, securestore.NamespaceDevice, securestore.KeyDeviceID, deviceID); err != nil {
		r.diagnose("write_device_secure", BackendDeviceSecureStore, err)
	}
}

func (r *Resolver) writeCloudSecure(ctx context.Context, deviceID string) {
	if r.cloudSecure == nil {
		return
	}
	if err := r.cloudSecure.Write(ctx, securestore.NamespaceCloud, securestore.KeyDeviceID, deviceID); err != nil {
		r.diagnose("write_cloud_secure", BackendCloudSecureStore, err)
	}
}

func (r *Resolver) markFirstLaunch(ctx context.Context) {
	if err := r.device.SetFirstLaunch(ctx, true); err != nil {
		r.diagnose("mark_first_launch", BackendLocalStore, err)
	}
}

// scheduleSecureWrites mirrors a freshly generated id into the
// configured secure stores without blocking the caller. Failures reach
// the diagnostic hook.
func (r *Resolver) scheduleSecureWrites(deviceID string) {
	if r.deviceSecure == nil && r.cloudSecure == nil {
		return
	}
	go func() {
		ctx := context.Background()
		r.writeDeviceSecure(ctx, deviceID)
		r.writeCloudSecure(ctx, deviceID)
	}()
}

func (r *Resolver) diagnose(op string, backend string, err error) {
	if err == nil {
		return
	}
	r.onDiagnostic(Diagnostic{Op: op, Backend: backend, Err: err})
}
