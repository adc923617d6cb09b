// Package httpapi exposes the directory service's JSON HTTP surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	platformerrors "github.com/arcanalabs/identity/internal/platform/errors"
	"github.com/arcanalabs/identity/internal/platform/httpx"
	"github.com/arcanalabs/identity/internal/services/directory/storage"
	"github.com/arcanalabs/identity/internal/services/directory/token"
)

const (
	maxUserIDLength = 128
	maxBodyBytes    = 1 << 16
	maxFindLimit    = 100
	birthDateLayout = "2006-01-02"
)

// Config carries the API dependencies.
type Config struct {
	// Users is the record store. Required.
	Users storage.UserStore
	// Verifier checks bearer tokens on the versioned routes. When nil,
	// requests are accepted without authentication (development mode).
	Verifier *token.Verifier
}

// API serves the directory routes.
type API struct {
	users    storage.UserStore
	verifier *token.Verifier
}

// New builds the API from cfg.
func New(cfg Config) (*API, error) {
	if cfg.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	return &API{users: cfg.Users, verifier: cfg.Verifier}, nil
}

// Routes returns the route handler. Bearer authentication guards the
// versioned API; the health endpoint stays open for probes.
func (a *API) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc(http.MethodGet+" /v1/users", a.handleFindUsers)
	api.HandleFunc(http.MethodGet+" /v1/users/{id}", a.handleGetUser)
	api.HandleFunc(http.MethodPut+" /v1/users/{id}", a.handlePutUser)
	api.HandleFunc(http.MethodPut+" /v1/users/{id}/hardware-id", a.handlePutHardwareID)

	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" /healthz", a.handleHealth)
	mux.Handle("/v1/", a.requireToken(api))
	return mux
}

type healthBody struct {
	Status string `json:"status"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

// userBody is the wire form of a user record.
type userBody struct {
	ID          string `json:"id"`
	HardwareID  string `json:"hardware_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	BirthDate   string `json:"birth_date,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

func toUserBody(user storage.User) userBody {
	return userBody{
		ID:          user.ID,
		HardwareID:  user.HardwareID,
		DisplayName: user.DisplayName,
		BirthDate:   user.BirthDate,
		CreatedAt:   user.CreatedAt.UTC().UnixMilli(),
		UpdatedAt:   user.UpdatedAt.UTC().UnixMilli(),
	}
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := validateUserID(id); err != nil {
		httpx.WriteError(w, err)
		return
	}

	user, err := a.users.GetUser(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, mapStorageError(err, "user record not found"))
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, toUserBody(user))
}

type usersBody struct {
	Users []userBody `json:"users"`
}

func (a *API) handleFindUsers(w http.ResponseWriter, r *http.Request) {
	hardwareID := strings.TrimSpace(r.URL.Query().Get("hardware_id"))
	if hardwareID == "" {
		httpx.WriteError(w, platformerrors.New(platformerrors.CodeHardwareIDEmpty, "hardware_id query parameter is required"))
		return
	}

	limit := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(w, platformerrors.New(platformerrors.CodeMalformedRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxFindLimit {
		limit = maxFindLimit
	}

	users, err := a.users.FindByHardwareID(r.Context(), hardwareID, limit)
	if err != nil {
		httpx.WriteError(w, wrapStorageError(err))
		return
	}

	body := usersBody{Users: make([]userBody, 0, len(users))}
	for _, user := range users {
		body.Users = append(body.Users, toUserBody(user))
	}
	_ = httpx.WriteJSON(w, http.StatusOK, body)
}

type putUserBody struct {
	DisplayName string `json:"display_name"`
	BirthDate   string `json:"birth_date"`
}

func (a *API) handlePutUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := validateUserID(id); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var body putUserBody
	if err := decodeBody(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	birthDate := strings.TrimSpace(body.BirthDate)
	if birthDate != "" {
		if _, err := time.Parse(birthDateLayout, birthDate); err != nil {
			httpx.WriteError(w, platformerrors.New(platformerrors.CodeBirthDateInvalid, "birth_date must use YYYY-MM-DD"))
			return
		}
	}

	user, err := a.users.PutUser(r.Context(), storage.User{
		ID:          id,
		DisplayName: strings.TrimSpace(body.DisplayName),
		BirthDate:   birthDate,
	})
	if err != nil {
		httpx.WriteError(w, wrapStorageError(err))
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, toUserBody(user))
}

type putHardwareIDBody struct {
	HardwareID string `json:"hardware_id"`
}

func (a *API) handlePutHardwareID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := validateUserID(id); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var body putHardwareIDBody
	if err := decodeBody(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	hardwareID := strings.TrimSpace(body.HardwareID)
	if hardwareID == "" {
		httpx.WriteError(w, platformerrors.New(platformerrors.CodeHardwareIDEmpty, "hardware_id is required"))
		return
	}

	user, err := a.users.UpsertHardwareID(r.Context(), id, hardwareID)
	if err != nil {
		httpx.WriteError(w, wrapStorageError(err))
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, toUserBody(user))
}

// requireToken verifies the bearer token when a verifier is configured.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.verifier != nil {
			if _, err := a.verifier.Verify(bearerToken(r)); err != nil {
				httpx.WriteError(w, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func validateUserID(value string) error {
	if value == "" {
		return platformerrors.New(platformerrors.CodeUserIDEmpty, "user id is required")
	}
	if len(value) > maxUserIDLength || strings.ContainsFunc(value, unicode.IsSpace) {
		return platformerrors.New(platformerrors.CodeUserIDMalformed, "user id is malformed")
	}
	return nil
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return platformerrors.Wrap(platformerrors.CodeMalformedRequest, "request body is not valid JSON", err)
	}
	return nil
}

// mapStorageError turns a storage miss into the not-found code and
// anything else into a persistence failure.
func mapStorageError(err error, notFoundMessage string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return platformerrors.New(platformerrors.CodeNotFound, notFoundMessage)
	}
	return wrapStorageError(err)
}

func wrapStorageError(err error) error {
	return platformerrors.Wrap(platformerrors.CodePersistenceFailure, "directory storage failed", err)
}
