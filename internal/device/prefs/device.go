package prefs

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Device wraps a Store with the device identity key conventions: canonical
// before legacy reads, one-way migration, and first-launch defaults.
type Device struct {
	store Store
}

// NewDevice wraps store with device identity key handling.
func NewDevice(store Store) (*Device, error) {
	if store == nil {
		return nil, fmt.Errorf("preference store is required")
	}
	return &Device{store: store}, nil
}

// DeviceID returns the locally stored device id, consulting the canonical
// key first and the legacy key second. A legacy hit is copied forward to the
// canonical key so later reads stop depending on it; the copy failing does
// not fail the read.
func (d *Device) DeviceID(ctx context.Context) (string, error) {
	value, err := d.store.GetString(ctx, KeyDeviceID)
	if err == nil && value != "" {
		return value, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	legacy, err := d.store.GetString(ctx, KeyLegacyDeviceID)
	if err != nil {
		return "", err
	}
	if legacy == "" {
		return "", ErrNotFound
	}
	if err := d.store.SetString(ctx, KeyDeviceID, legacy); err != nil {
		log.Printf("migrate legacy device id: %v", err)
	}
	return legacy, nil
}

// SetDeviceID writes the canonical device id key.
func (d *Device) SetDeviceID(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	return d.store.SetString(ctx, KeyDeviceID, deviceID)
}

// SetBackupDeviceID records an overridden local candidate id.
func (d *Device) SetBackupDeviceID(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("backup device id is required")
	}
	return d.store.SetString(ctx, KeyBackupDeviceID, deviceID)
}

// FirstLaunch reports whether the install is still on its first launch.
// A never-written flag counts as true.
func (d *Device) FirstLaunch(ctx context.Context) (bool, error) {
	value, err := d.store.GetBool(ctx, KeyFirstLaunch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return value, nil
}

// SetFirstLaunch writes the first-launch flag.
func (d *Device) SetFirstLaunch(ctx context.Context, value bool) error {
	return d.store.SetBool(ctx, KeyFirstLaunch, value)
}

// Clear removes every identity-owned key. The onboarding flag belongs to a
// different owner and survives.
func (d *Device) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{KeyDeviceID, KeyLegacyDeviceID, KeyBackupDeviceID, KeyFirstLaunch} {
		if err := d.store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
