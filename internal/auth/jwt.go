// Package auth verifies the session JWT that identifies the caller of the
// /integrations API.
//
// Accounts and sign-in belong to the surrounding application; this service
// only needs to know WHO is asking. That identity arrives as an HS256 JWT
// whose "sub" claim is the user id, either in an "Authorization: Bearer"
// header or in the "token" HttpOnly cookie set by the app's login flow.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"userID","iss":"devstats","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "devstats"

	// DefaultTokenTTL is the lifetime of tokens from Generate.
	DefaultTokenTTL = 15 * time.Minute

	// MinSecretLength is the shortest accepted HMAC secret.
	MinSecretLength = 16
)

// TokenService signs and verifies session tokens with one HMAC secret.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for userID that expires after DefaultTokenTTL.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, DefaultTokenTTL)
}

// GenerateWithDuration signs a token with a custom lifetime. The `token`
// CLI command uses it to mint longer-lived tokens for scripts.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user ID must not be empty")
	}

	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token and returns its subject (the user id).
//
// ALGORITHM CONFUSION ATTACK:
// Without pinning the algorithm an attacker could send a token signed with
// "none" (or an RSA public key used as an HMAC secret). WithValidMethods
// rejects anything but HS256.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
