package deviceid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arcanalabs/identity/internal/device/directory"
	"github.com/arcanalabs/identity/internal/device/securestore"
)

// strategy is one platform family's resolution algorithm. Every
// implementation terminates in a usable identity; backend failures
// degrade to "absent" and flow through the diagnostic hook.
type strategy interface {
	resolve(ctx context.Context) Identity
}

// hardwareStrategy recovers identity through the directory's hardware
// identifier association. Used on platforms with a stable hardware id
// and no cloud secure store.
type hardwareStrategy struct {
	r *Resolver
}

func (s *hardwareStrategy) resolve(ctx context.Context) Identity {
	r := s.r

	hardwareID, err := r.hardware.ID(ctx)
	if err != nil {
		r.diagnose("hardware_id", BackendHardware, err)
		hardwareID = ""
	}

	local := r.readLocalID(ctx)
	if local != "" {
		user, err := r.directory.GetUser(ctx, local)
		switch {
		case err == nil:
			s.backfillHardwareID(ctx, user, hardwareID)
			return Identity{ID: local, Source: SourceDirectoryLookup}
		case errors.Is(err, directory.ErrNotFound):
			// Unconfirmed. A hardware match below may override it.
		default:
			r.diagnose("confirm_local_id", BackendDirectory, err)
		}
	}

	if hardwareID != "" {
		user, err := r.directory.FindUserByHardwareID(ctx, hardwareID)
		switch {
		case err == nil:
			if local != "" && local != user.ID {
				if err := r.device.SetBackupDeviceID(ctx, local); err != nil {
					r.diagnose("backup_overridden_id", BackendLocalStore, err)
				}
			}
			r.persistLocal(ctx, user.ID)
			return Identity{ID: user.ID, Source: SourceHardwareLookup}
		case errors.Is(err, directory.ErrNotFound):
		default:
			r.diagnose("find_by_hardware_id", BackendDirectory, err)
		}
	}

	if local != "" {
		return Identity{ID: local, Source: SourceLocalStore}
	}

	identity := r.claimCandidate()
	r.persistLocal(ctx, identity.ID)
	r.markFirstLaunch(ctx)
	if hardwareID != "" {
		if err := r.directory.UpsertHardwareID(ctx, identity.ID, hardwareID); err != nil {
			r.diagnose("upsert_hardware_id", BackendDirectory, err)
		}
	}
	return identity
}

// backfillHardwareID attaches the hardware id to a confirmed record that
// lacks one. The association is append-only: a record that already
// carries a different hardware id, or a hardware id already claimed by
// another record, is left untouched.
func (s *hardwareStrategy) backfillHardwareID(ctx context.Context, user directory.User, hardwareID string) {
	r := s.r
	if hardwareID == "" || user.HardwareID == hardwareID {
		return
	}
	if user.HardwareID != "" {
		return
	}
	claimed, err := r.directory.FindUserByHardwareID(ctx, hardwareID)
	switch {
	case err == nil && claimed.ID != user.ID:
		r.diagnose("backfill_hardware_id", BackendDirectory,
			fmt.Errorf("hardware id already associated with record %s", claimed.ID))
		return
	case err != nil && !errors.Is(err, directory.ErrNotFound):
		r.diagnose("backfill_hardware_id", BackendDirectory, err)
		return
	}
	if err := r.directory.UpsertHardwareID(ctx, user.ID, hardwareID); err != nil {
		r.diagnose("backfill_hardware_id", BackendDirectory, err)
	}
}

// cloudStrategy recovers identity through the cloud-synchronized secure
// store, the only reinstall-surviving backend on its platform family.
type cloudStrategy struct {
	r *Resolver
}

func (s *cloudStrategy) resolve(ctx context.Context) Identity {
	r := s.r

	value, err := r.cloudSecure.Read(ctx, securestore.NamespaceCloud, securestore.KeyDeviceID)
	switch {
	case err == nil && strings.TrimSpace(value) != "":
		r.writeDeviceSecure(ctx, value)
		r.persistLocal(ctx, value)
		return Identity{ID: value, Source: SourceCloudSecureStore}
	case err != nil && !errors.Is(err, securestore.ErrNotFound):
		r.diagnose("read_cloud_secure", BackendCloudSecureStore, err)
	}

	if r.deviceSecure != nil {
		value, err := r.deviceSecure.Read(ctx, securestore.NamespaceDevice, securestore.KeyDeviceID)
		switch {
		case err == nil && strings.TrimSpace(value) != "":
			r.writeCloudSecure(ctx, value)
			r.persistLocal(ctx, value)
			return Identity{ID: value, Source: SourceLocalSecureStore}
		case err != nil && !errors.Is(err, securestore.ErrNotFound):
			r.diagnose("read_device_secure", BackendDeviceSecureStore, err)
		}
	}

	if local := r.readLocalID(ctx); local != "" {
		r.writeDeviceSecure(ctx, local)
		r.writeCloudSecure(ctx, local)
		return Identity{ID: local, Source: SourceLocalStore}
	}

	identity := r.claimCandidate()
	r.persistLocal(ctx, identity.ID)
	r.writeDeviceSecure(ctx, identity.ID)
	r.writeCloudSecure(ctx, identity.ID)
	r.markFirstLaunch(ctx)
	return identity
}

// localStrategy resolves from the preference store alone. Used on
// platforms with neither reinstall-recovery backend.
type localStrategy struct {
	r *Resolver
}

func (s *localStrategy) resolve(ctx context.Context) Identity {
	r := s.r
	if local := r.readLocalID(ctx); local != "" {
		return Identity{ID: local, Source: SourceLocalStore}
	}
	identity := r.claimCandidate()
	r.persistLocal(ctx, identity.ID)
	r.markFirstLaunch(ctx)
	return identity
}
