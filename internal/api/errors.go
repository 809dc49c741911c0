package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hearthbeam/hearth-core/internal/command"
	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps registry and engine errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, command.ErrNotFound),
		errors.Is(err, driver.ErrDriverNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, command.ErrValidation),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrCapabilityViolation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, command.ErrDeviceOffline),
		errors.Is(err, command.ErrDeviceNotPaired),
		errors.Is(err, command.ErrNotPending),
		errors.Is(err, command.ErrNotRetryable),
		errors.Is(err, device.ErrStaleState):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, command.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
