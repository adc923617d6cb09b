// Package directory hosts the identity directory service.
//
// The directory maps stable user identifiers to hardware identifiers and
// profile data so devices can recover their identity after data loss. It
// exposes a small HTTP API guarded by device tokens.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/arcanalabs/identity/internal/platform/httpx"
	"github.com/arcanalabs/identity/internal/platform/timeouts"
	"github.com/arcanalabs/identity/internal/services/directory/api/httpapi"
	"github.com/arcanalabs/identity/internal/services/directory/storage"
	"github.com/arcanalabs/identity/internal/services/directory/token"
)

// Config defines startup inputs for the directory service.
type Config struct {
	HTTPAddr string
	Users    storage.UserStore
	// Verifier gates the versioned API. Leaving it nil disables token
	// checks, which is only acceptable for local development.
	Verifier *token.Verifier
}

// Server hosts the directory HTTP surface and lifecycle.
type Server struct {
	httpAddr   string
	httpServer *http.Server
}

// NewHandler builds the root handler with the service middleware stack.
func NewHandler(cfg Config) (http.Handler, error) {
	api, err := httpapi.New(httpapi.Config{Users: cfg.Users, Verifier: cfg.Verifier})
	if err != nil {
		return nil, fmt.Errorf("compose directory api: %w", err)
	}
	return httpx.Chain(api.Routes(),
		httpx.RecoverPanic(),
		httpx.RequestID("directory"),
		httpx.Tracing("directory"),
		httpx.RequestLogger(log.Default()),
	), nil
}

// NewServer validates config and constructs a directory server.
func NewServer(_ context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}, nil
}

// ListenAndServe serves HTTP traffic until context cancellation or server stop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("directory server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown directory http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve directory http: %w", err)
	}
}

// Close closes open server resources.
func (s *Server) Close() {
	if s == nil || s.httpServer == nil {
		return
	}
	_ = s.httpServer.Close()
}
