// Package config loads runtime settings from the environment.
//
// LOADING ORDER:
//  1. A ".env" file in the working directory, if present (development only;
//     real environment variables always win because godotenv never overrides).
//  2. envconfig fills the Config struct, applying `default` tags.
//  3. Validate collects EVERY problem and reports them together, so a
//     misconfigured deploy fails once with a full list instead of one at a time.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// State store backends.
const (
	StateStoreMemory = "memory"
	StateStoreRedis  = "redis"
)

type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	DBPath   string `envconfig:"DB_PATH" default:"data/devstats.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	JWTSecret     string `envconfig:"JWT_SECRET"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"` // 64 hex chars = 32-byte AES-256 key

	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `envconfig:"GITHUB_CALLBACK_URL"`
	GitHubAPIURL       string `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
	FrontendURL        string `envconfig:"FRONTEND_URL" default:"http://localhost:3000/settings"`

	StateStore         string        `envconfig:"STATE_STORE" default:"memory"`
	StateTTL           time.Duration `envconfig:"STATE_TTL" default:"5m"`
	StateSweepInterval time.Duration `envconfig:"STATE_SWEEP_INTERVAL" default:"60s"`
	RedisAddr          string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword      string        `envconfig:"REDIS_PASSWORD"`
	RedisDB            int           `envconfig:"REDIS_DB" default:"0"`

	SyncLanguageInterval time.Duration `envconfig:"SYNC_LANGUAGE_INTERVAL" default:"100ms"`
	SyncTimeout          time.Duration `envconfig:"SYNC_TIMEOUT" default:"5m"`
	SyncMaxRepos         int           `envconfig:"SYNC_MAX_REPOS" default:"50"`
}

// Load reads an optional .env file, then the environment, then validates.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: reading .env: %w", err)
		}
	} else {
		logger.Debug("loaded .env file")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv fills a Config from the process environment without validating it.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load environment variables: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, "PORT must be between 1 and 65535")
	}
	if c.DBPath == "" {
		problems = append(problems, "DB_PATH must not be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(c.JWTSecret) < 16 {
		problems = append(problems, "JWT_SECRET must be at least 16 characters")
	}
	if key, err := hex.DecodeString(c.EncryptionKey); err != nil || len(key) != 32 {
		problems = append(problems, "ENCRYPTION_KEY must be 64 hex characters (run `devstats keygen`)")
	}

	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		problems = append(problems, "GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}
	if c.GitHubCallbackURL != "" && !isAbsoluteURL(c.GitHubCallbackURL) {
		problems = append(problems, "GITHUB_CALLBACK_URL must be an absolute URL")
	}
	if !isAbsoluteURL(c.GitHubAPIURL) {
		problems = append(problems, "GITHUB_API_URL must be an absolute URL")
	}
	if !isAbsoluteURL(c.FrontendURL) {
		problems = append(problems, "FRONTEND_URL must be an absolute URL")
	}

	switch c.StateStore {
	case StateStoreMemory:
		if c.StateSweepInterval <= 0 {
			problems = append(problems, "STATE_SWEEP_INTERVAL must be positive")
		}
	case StateStoreRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required when STATE_STORE=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("STATE_STORE must be %q or %q, got %q", StateStoreMemory, StateStoreRedis, c.StateStore))
	}
	if c.StateTTL <= 0 {
		problems = append(problems, "STATE_TTL must be positive")
	}

	if c.SyncLanguageInterval < 0 {
		problems = append(problems, "SYNC_LANGUAGE_INTERVAL must not be negative")
	}
	if c.SyncTimeout <= 0 {
		problems = append(problems, "SYNC_TIMEOUT must be positive")
	}
	if c.SyncMaxRepos <= 0 {
		problems = append(problems, "SYNC_MAX_REPOS must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: environment validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// GitHubConfigured reports whether the OAuth app credentials are present.
// Without them the /integrations routes still mount but GitHub rejects the flow.
func (c *Config) GitHubConfigured() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// CallbackURL returns GITHUB_CALLBACK_URL, or the local default for PORT.
func (c *Config) CallbackURL() string {
	if c.GitHubCallbackURL != "" {
		return c.GitHubCallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/integrations/callback", c.Port)
}

// LogValue keeps secrets out of logs when the config is logged as a whole.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("db_path", c.DBPath),
		slog.String("log_level", c.LogLevel),
		slog.String("jwt_secret", MaskSecret(c.JWTSecret)),
		slog.String("encryption_key", MaskSecret(c.EncryptionKey)),
		slog.String("github_client_id", MaskSecret(c.GitHubClientID)),
		slog.String("github_client_secret", MaskSecret(c.GitHubClientSecret)),
		slog.String("github_api_url", c.GitHubAPIURL),
		slog.String("frontend_url", c.FrontendURL),
		slog.String("state_store", c.StateStore),
		slog.Duration("state_ttl", c.StateTTL),
		slog.Duration("sync_timeout", c.SyncTimeout),
		slog.Int("sync_max_repos", c.SyncMaxRepos),
	)
}

// MaskSecret shows just enough of a secret to tell two values apart.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
