package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so every error body
// has the same shape:
//
//	{"error": "unsupported language: rust", "kind": "unsupported_language", "field": "language"}
//
// "error" is the human-readable text and, for failed jobs, the compiler or
// runtime diagnostic verbatim. Clients show it as is. "kind" is for code that
// wants to branch without parsing text.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/code-runner/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status go out BEFORE the body: once Encode writes, header
// changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to its HTTP status code. The service layer
// never sees status codes; this is the only place they are chosen.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.As walks the whole chain, so an AppError wrapped with
// fmt.Errorf("...: %w", appErr) is still found.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, statusFor(err), ErrorResponse{
			Error: appErr.Message,
			Kind:  appErr.Kind(),
			Field: appErr.Field,
			Stage: appErr.Stage,
		})
		return
	}

	// Unknown error: generic 500. The raw text may hold file paths or SQL.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "an internal error occurred",
		Kind:  "internal_error",
	})
}
