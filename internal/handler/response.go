package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "stats not found with id abc123"}
//
// The frontend always knows what fields to expect, whether it's a 401, 404 or 429.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/devstats/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written; once Encode
// writes, any later header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// The service layer returns apperror kinds; only this function knows which
// HTTP status each one becomes. errors.Is walks the whole wrap chain, so
// fmt.Errorf("...: %w", apperror.RateLimited(...)) still maps to 429.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, errorType := statusFor(err)
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: apperror.Redact(appErr.Message),
		})
		return
	}

	// Unknown error: never expose internals (SQL, paths) to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrAuth):
		return http.StatusUnauthorized, "auth_expired"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrRateLimit):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, apperror.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, apperror.ErrInvalidCode):
		return http.StatusBadRequest, "invalid_code"
	case errors.Is(err, apperror.ErrNetwork):
		return http.StatusBadGateway, "network_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
