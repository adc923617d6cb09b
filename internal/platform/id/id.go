// Package id generates canonical identifiers for device and user records.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a canonical lowercase UUIDv4 string.
//
// The format is stable across releases: identifiers are persisted on devices
// and in the directory, and validation on both sides assumes this shape.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return value.String(), nil
}

// IsWellFormed reports whether s is a canonical lowercase UUID string.
//
// Only the exact persisted form is accepted. Variants the uuid package can
// parse (braces, urn prefix, uppercase) are rejected so that lookups and
// stored values stay byte-comparable.
func IsWellFormed(s string) bool {
	if s != strings.TrimSpace(s) {
		return false
	}
	value, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return value.String() == s
}
