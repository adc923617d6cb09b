// Package timeouts defines shared timeout constants used across the module.
// Centralizing these values prevents drift between adapter boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// CollaboratorRequest caps a single request to a remote collaborator (the
// identity directory or the platform cloud vault). Resolution treats anything
// slower as an unavailable backend, so this stays in the single-digit seconds.
const CollaboratorRequest = 5 * time.Second

// HardwareLookup caps a hardware identifier query, which may shell out to a
// platform registry command.
const HardwareLookup = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
