package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the cookie the app's login flow stores the session JWT in.
const CookieName = "token"

// contextKey is unexported so no other package can read or overwrite our
// context values by accident.
type contextKey string

const userIDKey contextKey = "userID"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// TOKEN SOURCES, in order:
//  1. "Authorization: Bearer <jwt>" (API clients, scripts, the `token` CLI)
//  2. the "token" HttpOnly cookie (browsers)
//
// A valid token puts the user id into the request context; anything else
// ends the chain with 401.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="devstats"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			ctx := WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUserID returns a copy of ctx carrying userID. Handler tests use it to
// skip the JWT round trip.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
// Returns ("", false) if no authenticated user is present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", errors.New("auth: malformed Authorization header")
		}
		return tokens.Validate(strings.TrimSpace(token))
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", errNoToken
	}
	return tokens.Validate(cookie.Value)
}
