package hubapi

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured error response.
//
// Message is a short human-readable summary; Description carries detail.
// Code is a machine-readable error code for clients.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodePairingFailed  = "pairing_failed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
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
func writeError(w http.ResponseWriter, status int, code, message, description string) {
	writeJSON(w, status, Error{
		Code:        code,
		Message:     message,
		Description: description,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message, description string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message, description)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message, "")
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, description string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication failed", description)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message, "")
}
