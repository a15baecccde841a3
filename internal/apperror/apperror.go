// Package apperror defines the domain error kinds shared by every layer.
//
// Each kind is a sentinel error. Constructors wrap the sentinel in an *AppError
// that carries a human-readable message, so callers can both branch on the kind
// (errors.Is) and show something useful (AppError.Message).
//
// HTTP status codes are NOT decided here. The handler package maps kinds to
// statuses (see handler/response.go) so the service layer stays HTTP-agnostic.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrAuth means the stored GitHub credential was rejected (expired or revoked).
	// Whoever surfaces it must also reset the user's connection state.
	ErrAuth = errors.New("credential rejected")

	// ErrRateLimit means the GitHub quota is below the safety floor or exhausted.
	ErrRateLimit = errors.New("rate limited")

	// ErrInvalidCode means the OAuth authorization code is stale or already used.
	ErrInvalidCode = errors.New("invalid authorization code")

	// ErrInvalidState means the anti-forgery state token is unknown, expired or replayed.
	ErrInvalidState = errors.New("invalid or expired state")

	// ErrNetwork is a transport failure talking to GitHub. Retryable by the caller.
	ErrNetwork = errors.New("network error")

	// ErrFormat and ErrDecryption describe a corrupted stored credential.
	ErrFormat     = errors.New("malformed ciphertext")
	ErrDecryption = errors.New("decryption failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Auth returns an AppError for a credential GitHub refused.
func Auth(message string) *AppError {
	return &AppError{Err: ErrAuth, Message: message}
}

// RateLimited returns an AppError for an exhausted or nearly exhausted quota.
func RateLimited(message string) *AppError {
	return &AppError{Err: ErrRateLimit, Message: message}
}

func InvalidCode(message string) *AppError {
	return &AppError{Err: ErrInvalidCode, Message: message}
}

func InvalidState() *AppError {
	return &AppError{Err: ErrInvalidState, Message: "invalid or expired state"}
}

// Network wraps a transport failure. The cause is kept in the message
// (redacted by callers before it leaves the process).
func Network(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrNetwork,
		Message: fmt.Sprintf("%s: %v", op, cause),
	}
}

func Format(message string) *AppError {
	return &AppError{Err: ErrFormat, Message: message}
}

func Decryption(message string) *AppError {
	return &AppError{Err: ErrDecryption, Message: message}
}
