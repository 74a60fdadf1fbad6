// Package caperr defines the typed error raised for capability authorization
// failures. These errors propagate to the caller instead of being swallowed
// at the plugin boundary; the gateway maps them to HTTP responses.
package caperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a capability authorization failure with machine-readable metadata.
type Error struct {
	Status  int               `json:"status"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// New creates a capability error.
func New(status int, code, message string, meta map[string]string) *Error {
	return &Error{Status: status, Code: code, Message: message, Meta: meta}
}

// Forbidden creates a 403 capability error.
func Forbidden(code, message string, meta map[string]string) *Error {
	return New(http.StatusForbidden, code, message, meta)
}

// As unwraps err into a capability error if it is one.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// WriteHTTP writes err as a JSON response. Non-capability errors become an
// opaque 500 so internal details never leak to plugin callers.
func WriteHTTP(w http.ResponseWriter, err error) {
	ce, ok := As(err)
	if !ok {
		ce = New(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ce.Status)
	json.NewEncoder(w).Encode(ce)
}
