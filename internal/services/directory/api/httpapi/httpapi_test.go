package httpapi

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcanalabs/identity/internal/platform/httpx"
	"github.com/arcanalabs/identity/internal/services/directory/storage"
	"github.com/arcanalabs/identity/internal/services/directory/token"
)

// fakeUserStore implements storage.UserStore in memory with the same
// merge semantics as the SQLite store.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]storage.User
	err   error
}

var _ storage.UserStore = (*fakeUserStore)(nil)

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]storage.User)}
}

func (f *fakeUserStore) seed(user storage.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
}

func (f *fakeUserStore) PutUser(_ context.Context, user storage.User) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.User{}, f.err
	}
	stored, ok := f.users[user.ID]
	if !ok {
		stored = storage.User{ID: user.ID, CreatedAt: time.Now().UTC()}
	}
	if user.DisplayName != "" {
		stored.DisplayName = user.DisplayName
	}
	if user.BirthDate != "" {
		stored.BirthDate = user.BirthDate
	}
	stored.UpdatedAt = time.Now().UTC()
	f.users[user.ID] = stored
	return stored, nil
}

func (f *fakeUserStore) GetUser(_ context.Context, id string) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.User{}, f.err
	}
	user, ok := f.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) FindByHardwareID(_ context.Context, hardwareID string, limit int) ([]storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var matches []storage.User
	for _, user := range f.users {
		if user.HardwareID == hardwareID {
			matches = append(matches, user)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *fakeUserStore) UpsertHardwareID(_ context.Context, userID string, hardwareID string) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.User{}, f.err
	}
	stored, ok := f.users[userID]
	if !ok {
		stored = storage.User{ID: userID, CreatedAt: time.Now().UTC()}
	}
	stored.HardwareID = hardwareID
	stored.UpdatedAt = time.Now().UTC()
	f.users[userID] = stored
	return stored, nil
}

func newTestAPI(t *testing.T, store storage.UserStore, verifier *token.Verifier) http.Handler {
	t.Helper()
	api, err := New(Config{Users: store, Verifier: verifier})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api.Routes()
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealthEndpointNeedsNoToken(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := token.NewVerifier(token.VerifierConfig{Key: key.Public().(ed25519.PublicKey)})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	routes := newTestAPI(t, newFakeUserStore(), verifier)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %q, want a status ok payload", rec.Body.String())
	}
}

func TestGetUserReturnsRecord(t *testing.T) {
	store := newFakeUserStore()
	store.seed(storage.User{ID: "user-1", HardwareID: "HW42", DisplayName: "Rowan"})
	routes := newTestAPI(t, store, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body userBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID != "user-1" || body.HardwareID != "HW42" || body.DisplayName != "Rowan" {
		t.Fatalf("body = %+v, want the seeded record", body)
	}
}

func TestGetUserMissingReturnsNotFound(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/absent", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "NOT_FOUND" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "NOT_FOUND")
	}
}

func TestGetUserRejectsMalformedID(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/"+strings.Repeat("x", 200), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "USER_ID_MALFORMED" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "USER_ID_MALFORMED")
	}
}

func TestFindUsersReturnsOldestFirst(t *testing.T) {
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeUserStore()
	store.seed(storage.User{ID: "user-new", HardwareID: "HW42", CreatedAt: base.Add(time.Hour)})
	store.seed(storage.User{ID: "user-old", HardwareID: "HW42", CreatedAt: base})
	routes := newTestAPI(t, store, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users?hardware_id=HW42&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body usersBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Users) != 1 || body.Users[0].ID != "user-old" {
		t.Fatalf("users = %+v, want only user-old", body.Users)
	}
}

func TestFindUsersRequiresHardwareID(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "HARDWARE_ID_EMPTY" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "HARDWARE_ID_EMPTY")
	}
}

func TestFindUsersMissEncodesEmptyList(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users?hardware_id=HW-unknown", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"users":[]`) {
		t.Fatalf("body = %q, want an empty users list", rec.Body.String())
	}
}

func TestFindUsersRejectsBadLimit(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users?hardware_id=HW42&limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPutUserMergesProfile(t *testing.T) {
	store := newFakeUserStore()
	routes := newTestAPI(t, store, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/user-1",
		strings.NewReader(`{"display_name":"Rowan"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("first put status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/user-1",
		strings.NewReader(`{"birth_date":"2015-06-01"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("second put status = %d: %s", rec.Code, rec.Body.String())
	}

	var body userBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.DisplayName != "Rowan" || body.BirthDate != "2015-06-01" {
		t.Fatalf("body = %+v, want both profile fields set", body)
	}
}

func TestPutUserValidatesBirthDate(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/user-1",
		strings.NewReader(`{"birth_date":"June 1st"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "BIRTH_DATE_INVALID" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "BIRTH_DATE_INVALID")
	}
}

func TestPutUserRejectsInvalidJSON(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/user-1",
		strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "MALFORMED_REQUEST" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "MALFORMED_REQUEST")
	}
}

func TestPutHardwareIDCreatesRecord(t *testing.T) {
	store := newFakeUserStore()
	routes := newTestAPI(t, store, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/user-1/hardware-id",
		strings.NewReader(`{"hardware_id":"HW42"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body userBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID != "user-1" || body.HardwareID != "HW42" {
		t.Fatalf("body = %+v, want user-1 with hardware id HW42", body)
	}
}

func TestPutHardwareIDRequiresValue(t *testing.T) {
	routes := newTestAPI(t, newFakeUserStore(), nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/users/user-1/hardware-id",
		strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "HARDWARE_ID_EMPTY" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "HARDWARE_ID_EMPTY")
	}
}

func TestBearerTokenGuardsVersionedRoutes(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := token.NewVerifier(token.VerifierConfig{Key: public})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	signer, err := token.NewSigner(token.SignerConfig{Key: private})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	store := newFakeUserStore()
	store.seed(storage.User{ID: "user-1"})
	routes := newTestAPI(t, store, verifier)

	// Missing token.
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, rec); body.Error.Code != "TOKEN_MISSING" {
		t.Fatalf("error code = %q, want %q", body.Error.Code, "TOKEN_MISSING")
	}

	// Token signed by the wrong key.
	_, wrongKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate wrong key: %v", err)
	}
	wrongSigner, err := token.NewSigner(token.SignerConfig{Key: wrongKey})
	if err != nil {
		t.Fatalf("new wrong signer: %v", err)
	}
	forged, err := wrongSigner.Sign("user-1")
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/users/user-1", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with forged token = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Valid token.
	signed, err := signer.Sign("user-1")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/users/user-1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with valid token = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestAuthDisabledWithoutVerifier(t *testing.T) {
	store := newFakeUserStore()
	store.seed(storage.User{ID: "user-1"})
	routes := newTestAPI(t, store, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNewRequiresUserStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New succeeded without a user store, want error")
	}
}
