// Package errors provides structured error handling shared across the module.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Backend/resolution errors. Identity resolution treats all three as
	// degraded backends, never as fatal conditions.
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	CodeNotFound           Code = "NOT_FOUND"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"

	// Directory validation errors
	CodeMalformedRequest Code = "MALFORMED_REQUEST"
	CodeUserIDEmpty      Code = "USER_ID_EMPTY"
	CodeUserIDMalformed  Code = "USER_ID_MALFORMED"
	CodeHardwareIDEmpty  Code = "HARDWARE_ID_EMPTY"
	CodeBirthDateInvalid Code = "BIRTH_DATE_INVALID"

	// Request token errors
	CodeTokenMissing Code = "TOKEN_MISSING"
	CodeTokenInvalid Code = "TOKEN_INVALID"
	CodeTokenExpired Code = "TOKEN_EXPIRED"
)

// HTTPStatus maps domain codes to HTTP status codes for the API layer.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeMalformedRequest,
		CodeUserIDEmpty,
		CodeUserIDMalformed,
		CodeHardwareIDEmpty,
		CodeBirthDateInvalid:
		return http.StatusBadRequest

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	// Unauthorized - request token problems
	case CodeTokenMissing,
		CodeTokenInvalid,
		CodeTokenExpired:
		return http.StatusUnauthorized

	// ServiceUnavailable - a dependency is down
	case CodeBackendUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
