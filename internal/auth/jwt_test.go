package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "devstats-test-secret-0123456789"

// newTestTokenService creates a TokenService with a fixed secret so the
// tests can also sign tokens by hand.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// signRaw signs arbitrary claims, for tokens Generate would never produce.
func signRaw(t *testing.T, method jwt.SigningMethod, key any, c jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, c).SignedString(key)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// parseUnverified reads the claims of a token without checking anything.
func parseUnverified(t *testing.T, token string) *jwt.RegisteredClaims {
	t.Helper()
	c := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, c); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	return c
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{name: "empty", secret: "", wantErr: true},
		{name: "one short of the minimum", secret: strings.Repeat("s", MinSecretLength-1), wantErr: true},
		{name: "exactly the minimum", secret: strings.Repeat("s", MinSecretLength)},
		{name: "openssl rand -hex 32", secret: strings.Repeat("ab", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenService(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTokenService() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =========================================================================
// GENERATE
// =========================================================================

func TestGenerate_Claims(t *testing.T) {
	ts := newTestTokenService(t)
	before := time.Now().Add(-time.Second)

	token, err := ts.Generate("user-42")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	c := parseUnverified(t, token)
	if c.Subject != "user-42" {
		t.Errorf("sub = %q, want user-42", c.Subject)
	}
	if c.Issuer != "devstats" {
		t.Errorf("iss = %q, want devstats", c.Issuer)
	}
	if c.ExpiresAt == nil {
		t.Fatal("exp missing")
	}
	if ttl := c.ExpiresAt.Sub(before); ttl < DefaultTokenTTL || ttl > DefaultTokenTTL+5*time.Second {
		t.Errorf("exp - now = %v, want about %v", ttl, DefaultTokenTTL)
	}
}

func TestGenerateWithDuration_CustomTTL(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("script-user", 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}

	c := parseUnverified(t, token)
	if remaining := time.Until(c.ExpiresAt.Time); remaining < 23*time.Hour {
		t.Errorf("token expires in %v, want about 24h", remaining)
	}
}

func TestGenerate_EmptyUserID(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Generate(""); err == nil {
		t.Fatal("Generate() should refuse an empty user ID")
	}
}

// =========================================================================
// VALIDATE
// =========================================================================

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	for _, id := range []string{"user-42", "c9q1l5a3m0v8g2k7e0pg", "alice@example.com"} {
		token, err := ts.Generate(id)
		if err != nil {
			t.Fatalf("Generate(%q) error = %v", id, err)
		}
		got, err := ts.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if got != id {
			t.Errorf("Validate() = %q, want %q", got, id)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	now := time.Now()

	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "devstats",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
	}

	good, err := ts.Generate("user-42")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	parts := strings.Split(good, ".")
	otherPayload := strings.Split(signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject: "admin", Issuer: "devstats", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}), ".")[1]

	tests := []struct {
		name  string
		token func() string
	}{
		{
			name:  "garbage",
			token: func() string { return "not-a-jwt" },
		},
		{
			name:  "empty",
			token: func() string { return "" },
		},
		{
			name: "expired",
			token: func() string {
				c := valid()
				c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
		},
		{
			name: "no expiry",
			token: func() string {
				c := valid()
				c.ExpiresAt = nil
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
		},
		{
			name: "foreign issuer",
			token: func() string {
				c := valid()
				c.Issuer = "coding-playground"
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
		},
		{
			name: "no subject",
			token: func() string {
				c := valid()
				c.Subject = ""
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
		},
		{
			name: "other secret",
			token: func() string {
				return signRaw(t, jwt.SigningMethodHS256, []byte("some-other-secret-entirely"), valid())
			},
		},
		{
			name: "HS512 with the right secret",
			token: func() string {
				return signRaw(t, jwt.SigningMethodHS512, []byte(testSecret), valid())
			},
		},
		{
			name: "alg none",
			token: func() string {
				return signRaw(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())
			},
		},
		{
			name: "payload swapped under a valid signature",
			token: func() string {
				return parts[0] + "." + otherPayload + "." + parts[2]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if id, err := ts.Validate(tt.token()); err == nil {
				t.Errorf("Validate() = %q, want an error", id)
			}
		})
	}
}
