package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcanalabs/identity/internal/services/directory/storage"
)

func TestUpsertHardwareIDCreatesRecord(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := store.UpsertHardwareID(ctx, "user-1", "HW42")
	if err != nil {
		t.Fatalf("upsert hardware id: %v", err)
	}
	if user.ID != "user-1" || user.HardwareID != "HW42" {
		t.Fatalf("user = %+v, want user-1 with hardware id HW42", user)
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Fatalf("user timestamps not set: %+v", user)
	}
}

func TestUpsertHardwareIDPreservesProfileFields(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.PutUser(ctx, storage.User{
		ID:          "user-1",
		DisplayName: "Rowan",
		BirthDate:   "2015-06-01",
	}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	user, err := store.UpsertHardwareID(ctx, "user-1", "HW42")
	if err != nil {
		t.Fatalf("upsert hardware id: %v", err)
	}
	if user.DisplayName != "Rowan" || user.BirthDate != "2015-06-01" {
		t.Fatalf("profile fields clobbered: %+v", user)
	}
	if user.HardwareID != "HW42" {
		t.Fatalf("hardware id = %q, want %q", user.HardwareID, "HW42")
	}
}

func TestUpsertHardwareIDRejectsEmptyValues(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.UpsertHardwareID(ctx, " ", "HW42"); err == nil {
		t.Fatal("upsert with blank user id succeeded, want error")
	}
	if _, err := store.UpsertHardwareID(ctx, "user-1", " "); err == nil {
		t.Fatal("upsert with blank hardware id succeeded, want error")
	}
}

func TestPutUserMergesProfile(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	first, err := store.PutUser(ctx, storage.User{ID: "user-1", DisplayName: "Rowan"})
	if err != nil {
		t.Fatalf("put user: %v", err)
	}

	// A later write carrying only a birth date must not blank the name.
	merged, err := store.PutUser(ctx, storage.User{ID: "user-1", BirthDate: "2015-06-01"})
	if err != nil {
		t.Fatalf("merge user: %v", err)
	}
	if merged.DisplayName != "Rowan" {
		t.Fatalf("display name = %q, want preserved %q", merged.DisplayName, "Rowan")
	}
	if merged.BirthDate != "2015-06-01" {
		t.Fatalf("birth date = %q, want %q", merged.BirthDate, "2015-06-01")
	}
	if !merged.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created at changed on merge: %v -> %v", first.CreatedAt, merged.CreatedAt)
	}
}

func TestGetUserMissingReturnsNotFound(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetUser(context.Background(), "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing user error = %v, want storage.ErrNotFound", err)
	}
}

func TestFindByHardwareIDReturnsOldestFirst(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	// Millisecond timestamps order the records; space the writes out so
	// creation order is observable.
	for _, id := range []string{"user-b", "user-a", "user-c"} {
		if _, err := store.UpsertHardwareID(ctx, id, "HW42"); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
		time.Sleep(3 * time.Millisecond)
	}

	users, err := store.FindByHardwareID(ctx, "HW42", 1)
	if err != nil {
		t.Fatalf("find by hardware id: %v", err)
	}
	if len(users) != 1 || users[0].ID != "user-b" {
		t.Fatalf("users = %+v, want the oldest record user-b", users)
	}

	all, err := store.FindByHardwareID(ctx, "HW42", 10)
	if err != nil {
		t.Fatalf("find all by hardware id: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(users) = %d, want 3", len(all))
	}
	for i, want := range []string{"user-b", "user-a", "user-c"} {
		if all[i].ID != want {
			t.Fatalf("users[%d] = %q, want %q", i, all[i].ID, want)
		}
	}
}

func TestFindByHardwareIDMissReturnsEmpty(t *testing.T) {
	store, err := Open(t.TempDir() + "/directory.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	users, err := store.FindByHardwareID(context.Background(), "HW-unknown", 1)
	if err != nil {
		t.Fatalf("find by hardware id: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("users = %+v, want none", users)
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := t.TempDir() + "/directory.db"

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.UpsertHardwareID(ctx, "user-1", "HW42"); err != nil {
		t.Fatalf("upsert hardware id: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	user, err := reopened.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user after reopen: %v", err)
	}
	if user.HardwareID != "HW42" {
		t.Fatalf("hardware id = %q, want %q", user.HardwareID, "HW42")
	}
}
