// Package cloudvault implements the cloud-synchronized secure store as an
// HTTP client against the platform vault service. Entries written here follow
// the user's platform account across devices and reinstalls.
package cloudvault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/arcanalabs/identity/internal/device/securestore"
	"github.com/arcanalabs/identity/internal/platform/errors"
	"github.com/arcanalabs/identity/internal/platform/timeouts"
)

const defaultMaxBodyBytes = 1 << 20 // 1MiB

// Config configures the vault client.
type Config struct {
	// BaseURL is the base URL of the platform vault (e.g. https://vault.example.com).
	BaseURL string
	// AccountToken authenticates the device's platform account. Optional in
	// development environments.
	AccountToken string
	// HTTPClient executes requests. When nil, a default client with the
	// collaborator timeout is used.
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies to prevent memory exhaustion.
	MaxBodyBytes int64
}

// Client talks to the platform vault service.
type Client struct {
	baseURL      string
	accountToken string
	httpClient   *http.Client
	maxBodyBytes int64
}

var _ securestore.Store = (*Client)(nil)

// New creates a vault client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("cloudvault: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("cloudvault: BaseURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("cloudvault: BaseURL scheme must be http or https")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("cloudvault: BaseURL must not include user info")
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

	return &Client{
		baseURL:      baseURL,
		accountToken: strings.TrimSpace(cfg.AccountToken),
		httpClient:   client,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

type itemBody struct {
	Value string `json:"value"`
}

// Read returns the value stored under namespace/key in the platform account.
func (c *Client) Read(ctx context.Context, namespace string, key string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, namespace, key, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", securestore.ErrNotFound
	default:
		return "", c.statusError("read", namespace, key, resp)
	}

	var item itemBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(&item); err != nil {
		return "", errors.WrapWithMetadata(errors.CodeBackendUnavailable, "decode vault item",
			map[string]string{"namespace": namespace, "key": key}, err)
	}
	return item.Value, nil
}

// Write stores value under namespace/key in the platform account.
func (c *Client) Write(ctx context.Context, namespace string, key string, value string) error {
	payload, err := json.Marshal(itemBody{Value: value})
	if err != nil {
		return fmt.Errorf("cloudvault: encode item: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, namespace, key, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.statusError("write", namespace, key, resp)
	}
	return nil
}

// Delete removes the entry under namespace/key. Absent entries are not an error.
func (c *Client) Delete(ctx context.Context, namespace string, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, namespace, key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.statusError("delete", namespace, key, resp)
	}
}

func (c *Client) do(ctx context.Context, method string, namespace string, key string, payload []byte) (*http.Response, error) {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	if namespace == "" {
		return nil, fmt.Errorf("cloudvault: namespace is required")
	}
	if key == "" {
		return nil, fmt.Errorf("cloudvault: key is required")
	}

	endpoint := c.baseURL + "/v1/items/" + url.PathEscape(namespace) + "/" + url.PathEscape(key)
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("cloudvault: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accountToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accountToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapWithMetadata(errors.CodeBackendUnavailable, "vault request failed",
			map[string]string{"namespace": namespace, "key": key}, err)
	}
	return resp, nil
}

func (c *Client) statusError(op string, namespace string, key string, resp *http.Response) error {
	detail, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := resp.Status
	if readErr == nil && len(bytes.TrimSpace(detail)) > 0 {
		message = resp.Status + ": " + strings.TrimSpace(string(detail))
	}
	return errors.WithMetadata(errors.CodeBackendUnavailable, "vault "+op+" "+message,
		map[string]string{"namespace": namespace, "key": key})
}
