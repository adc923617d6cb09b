package prefs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/arcanalabs/identity/internal/device/devicetest"
	"github.com/arcanalabs/identity/internal/device/prefs"
)

func TestDeviceIDPrefersCanonicalKey(t *testing.T) {
	store := devicetest.NewPrefs()
	store.Seed(prefs.KeyDeviceID, "canonical-id")
	store.Seed(prefs.KeyLegacyDeviceID, "legacy-id")
	device := newDevice(t, store)

	got, err := device.DeviceID(context.Background())
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	if got != "canonical-id" {
		t.Fatalf("device id = %q, want canonical-id", got)
	}
}

func TestDeviceIDFallsBackToLegacyAndBackfills(t *testing.T) {
	store := devicetest.NewPrefs()
	store.Seed(prefs.KeyLegacyDeviceID, "legacy-id")
	device := newDevice(t, store)

	got, err := device.DeviceID(context.Background())
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	if got != "legacy-id" {
		t.Fatalf("device id = %q, want legacy-id", got)
	}

	canonical, ok := store.Value(prefs.KeyDeviceID)
	if !ok || canonical != "legacy-id" {
		t.Fatalf("canonical key = %q (present=%v), want backfilled legacy-id", canonical, ok)
	}
}

func TestDeviceIDNeverWritesLegacyKey(t *testing.T) {
	store := devicetest.NewPrefs()
	device := newDevice(t, store)
	ctx := context.Background()

	if err := device.SetDeviceID(ctx, "new-id"); err != nil {
		t.Fatalf("set device id: %v", err)
	}
	if _, ok := store.Value(prefs.KeyLegacyDeviceID); ok {
		t.Fatal("legacy key must never be written")
	}
	got, err := device.DeviceID(ctx)
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	if got != "new-id" {
		t.Fatalf("device id = %q, want new-id", got)
	}
}

func TestDeviceIDMissingEverywhereIsNotFound(t *testing.T) {
	device := newDevice(t, devicetest.NewPrefs())

	_, err := device.DeviceID(context.Background())
	if !errors.Is(err, prefs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeviceIDSurvivesBackfillFailure(t *testing.T) {
	store := devicetest.NewPrefs()
	store.Seed(prefs.KeyLegacyDeviceID, "legacy-id")
	store.WriteErr = errors.New("disk full")
	device := newDevice(t, store)

	got, err := device.DeviceID(context.Background())
	if err != nil {
		t.Fatalf("device id should survive backfill failure: %v", err)
	}
	if got != "legacy-id" {
		t.Fatalf("device id = %q, want legacy-id", got)
	}
}

func TestFirstLaunchDefaultsTrue(t *testing.T) {
	device := newDevice(t, devicetest.NewPrefs())

	first, err := device.FirstLaunch(context.Background())
	if err != nil {
		t.Fatalf("first launch: %v", err)
	}
	if !first {
		t.Fatal("unset first-launch flag must read as true")
	}
}

func TestFirstLaunchRoundTrip(t *testing.T) {
	device := newDevice(t, devicetest.NewPrefs())
	ctx := context.Background()

	if err := device.SetFirstLaunch(ctx, false); err != nil {
		t.Fatalf("set first launch: %v", err)
	}
	first, err := device.FirstLaunch(ctx)
	if err != nil {
		t.Fatalf("first launch: %v", err)
	}
	if first {
		t.Fatal("expected first launch false after write")
	}
}

func TestClearRemovesIdentityKeysOnly(t *testing.T) {
	store := devicetest.NewPrefs()
	store.Seed(prefs.KeyDeviceID, "id")
	store.Seed(prefs.KeyLegacyDeviceID, "legacy")
	store.Seed(prefs.KeyBackupDeviceID, "backup")
	store.SeedBool(prefs.KeyFirstLaunch, false)
	store.SeedBool(prefs.KeyOnboardingComplete, true)
	device := newDevice(t, store)

	if err := device.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}

	for _, key := range []string{prefs.KeyDeviceID, prefs.KeyLegacyDeviceID, prefs.KeyBackupDeviceID, prefs.KeyFirstLaunch} {
		if _, ok := store.Value(key); ok {
			t.Fatalf("expected %s to be cleared", key)
		}
	}
	if _, ok := store.Value(prefs.KeyOnboardingComplete); !ok {
		t.Fatal("onboarding flag belongs to another owner and must survive")
	}
}

func newDevice(t *testing.T, store prefs.Store) *prefs.Device {
	t.Helper()
	device, err := prefs.NewDevice(store)
	if err != nil {
		t.Fatalf("new device prefs: %v", err)
	}
	return device
}
