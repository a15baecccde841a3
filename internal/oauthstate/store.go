// Package oauthstate issues and checks the one-time anti-forgery tokens that
// travel through the GitHub OAuth redirect as the `state` parameter.
//
// LIFECYCLE OF A TOKEN:
//  1. Issue(ownerID)   → random token, stored with a TTL (5 minutes by default)
//  2. GitHub redirects back with ?state=<token>
//  3. Validate(token)  → ownerID, ok. Unknown and expired look the same to the caller.
//  4. Consume(token)   → deleted, so a replayed callback fails Validate
//
// Take does 3 and 4 as one atomic step. The callback uses it, so two
// concurrent callbacks carrying the same token cannot both succeed.
//
// Expiry is checked on every read. The periodic sweep only bounds memory; it
// is never what makes an old token invalid.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is how often expired, never-consumed tokens are purged.
const DefaultSweepInterval = 60 * time.Second

// tokenBytes is the amount of randomness in a token (256 bits).
const tokenBytes = 32

// Store is the contract the integration service depends on.
type Store interface {
	Issue(ctx context.Context, ownerID string) (string, error)
	// Validate returns ok=false (and no error) for unknown or expired tokens.
	Validate(ctx context.Context, token string) (ownerID string, ok bool, err error)
	Consume(ctx context.Context, token string) error
	// Take validates and consumes in one atomic step: at most one caller
	// ever gets ok=true for a given token.
	Take(ctx context.Context, token string) (ownerID string, ok bool, err error)
	// Sweep removes expired entries and reports how many were dropped.
	Sweep(ctx context.Context) (int, error)
}

// newToken returns a URL-safe random token.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauthstate: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
