package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "user missing")
	target := New(CodeNotFound, "different message")

	if !stderrors.Is(err, target) {
		t.Fatal("expected errors with the same code to match")
	}

	other := New(CodeBackendUnavailable, "user missing")
	if stderrors.Is(err, other) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeBackendUnavailable, "directory request failed", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable, got %v", err)
	}
	if err.Error() != "directory request failed" {
		t.Fatalf("Error() = %q, want internal message", err.Error())
	}
}

func TestWrapWithMetadataKeepsContext(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := WrapWithMetadata(CodePersistenceFailure, "write device id", map[string]string{
		"backend": "prefs",
		"key":     "device_id",
	}, cause)

	if err.Metadata["backend"] != "prefs" {
		t.Fatalf("metadata backend = %q, want prefs", err.Metadata["backend"])
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to survive metadata wrapping")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeMalformedRequest, http.StatusBadRequest},
		{CodeUserIDEmpty, http.StatusBadRequest},
		{CodeUserIDMalformed, http.StatusBadRequest},
		{CodeHardwareIDEmpty, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeTokenMissing, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeBackendUnavailable, http.StatusServiceUnavailable},
		{CodePersistenceFailure, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
