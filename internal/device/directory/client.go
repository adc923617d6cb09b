package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/arcanalabs/identity/internal/platform/errors"
	"github.com/arcanalabs/identity/internal/platform/timeouts"
	"github.com/arcanalabs/identity/internal/services/directory/token"
)

const defaultMaxBodyBytes = 1 << 20 // 1MiB

// Config configures the HTTP directory client.
type Config struct {
	// BaseURL is the base URL of the directory service.
	BaseURL string
	// Signer mints request tokens. Optional; without one, requests go out
	// unauthenticated for development stacks.
	Signer *token.Signer
	// HTTPClient executes requests. When nil, a default client with the
	// collaborator timeout is used.
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies to prevent memory exhaustion.
	MaxBodyBytes int64
}

// HTTPClient talks to the directory service over HTTP/JSON.
type HTTPClient struct {
	baseURL      string
	signer       *token.Signer
	httpClient   *http.Client
	maxBodyBytes int64
}

var _ Client = (*HTTPClient)(nil)

// NewClient creates an HTTP directory client.
func NewClient(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("directory: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("directory: BaseURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("directory: BaseURL scheme must be http or https")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("directory: BaseURL must not include user info")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeouts.CollaboratorRequest}
	}
	if client.Timeout == 0 {
		client.Timeout = timeouts.CollaboratorRequest
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	return &HTTPClient{
		baseURL:      baseURL,
		signer:       cfg.Signer,
		httpClient:   client,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

// userBody is the directory wire form: timestamps travel as Unix millis.
type userBody struct {
	ID          string `json:"id"`
	HardwareID  string `json:"hardware_id"`
	DisplayName string `json:"display_name"`
	BirthDate   string `json:"birth_date"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

func (b userBody) toUser() User {
	return User{
		ID:          b.ID,
		HardwareID:  b.HardwareID,
		DisplayName: b.DisplayName,
		BirthDate:   b.BirthDate,
		CreatedAt:   fromMillis(b.CreatedAt),
		UpdatedAt:   fromMillis(b.UpdatedAt),
	}
}

func fromMillis(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

// GetUser returns the record stored under id.
func (c *HTTPClient) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("directory: user id is required")
	}

	resp, err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), id, nil)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return User{}, ErrNotFound
	default:
		return User{}, c.statusError("get user", resp)
	}

	var body userBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(&body); err != nil {
		return User{}, errors.Wrap(errors.CodeBackendUnavailable, "decode directory user", err)
	}
	return body.toUser(), nil
}

// FindUserByHardwareID returns the record associated with hardwareID.
func (c *HTTPClient) FindUserByHardwareID(ctx context.Context, hardwareID string) (User, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return User{}, fmt.Errorf("directory: hardware id is required")
	}

	query := url.Values{}
	query.Set("hardware_id", hardwareID)
	query.Set("limit", "1")
	resp, err := c.do(ctx, http.MethodGet, "/v1/users?"+query.Encode(), "", nil)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return User{}, c.statusError("find user", resp)
	}

	var payload struct {
		Users []userBody `json:"users"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(&payload); err != nil {
		return User{}, errors.Wrap(errors.CodeBackendUnavailable, "decode directory users", err)
	}
	if len(payload.Users) == 0 {
		return User{}, ErrNotFound
	}
	return payload.Users[0].toUser(), nil
}

// UpsertHardwareID associates hardwareID with the record under userID.
func (c *HTTPClient) UpsertHardwareID(ctx context.Context, userID string, hardwareID string) error {
	userID = strings.TrimSpace(userID)
	hardwareID = strings.TrimSpace(hardwareID)
	if userID == "" {
		return fmt.Errorf("directory: user id is required")
	}
	if hardwareID == "" {
		return fmt.Errorf("directory: hardware id is required")
	}

	payload, err := json.Marshal(map[string]string{"hardware_id": hardwareID})
	if err != nil {
		return fmt.Errorf("directory: encode hardware id: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, "/v1/users/"+url.PathEscape(userID)+"/hardware-id", userID, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.statusError("upsert hardware id", resp)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method string, path string, subject string, payload []byte) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("directory: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		signed, err := c.signer.Sign(subject)
		if err != nil {
			return nil, fmt.Errorf("directory: sign request token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.CodeBackendUnavailable, "directory request failed", err)
	}
	return resp, nil
}

func (c *HTTPClient) statusError(op string, resp *http.Response) error {
	detail, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := resp.Status
	if readErr == nil && len(bytes.TrimSpace(detail)) > 0 {
		message = resp.Status + ": " + strings.TrimSpace(string(detail))
	}
	return errors.New(errors.CodeBackendUnavailable, "directory "+op+" "+message)
}
