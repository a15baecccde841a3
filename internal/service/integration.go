// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// IntegrationService is the only service: it runs the GitHub account-linking
// flow and the stats sync. It depends on interfaces (GitHubAPI, TokenCipher,
// repository.*, oauthstate.Store), never on concrete clients, so the whole
// pipeline can be tested with in-memory fakes (see integration_test.go).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/sakif/devstats/internal/apperror"
	"github.com/sakif/devstats/internal/github"
	"github.com/sakif/devstats/internal/metrics"
	"github.com/sakif/devstats/internal/model"
	"github.com/sakif/devstats/internal/oauthstate"
	"github.com/sakif/devstats/internal/repository"
	"github.com/sakif/devstats/internal/stats"
)

// Defaults for IntegrationConfig.
const (
	DefaultLanguageInterval = 100 * time.Millisecond
	DefaultMaxRepos         = 50
	DefaultSyncTimeout      = 5 * time.Minute
)

// GitHubAPI is what the service needs from *github.Client.
type GitHubAPI interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	CheckQuota(ctx context.Context, token string) (*github.Quota, error)
	FetchProfile(ctx context.Context, token string) (*github.Profile, error)
	FetchRepositories(ctx context.Context, login, token string) ([]github.Repository, error)
	FetchLanguages(ctx context.Context, owner, repo, token string) (github.LanguageBytes, error)
}

// TokenCipher is what the service needs from *credential.Cipher.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// IntegrationConfig tunes the sync pipeline.
type IntegrationConfig struct {
	// LanguageInterval is the minimum gap between two language fetches.
	// Zero disables pacing (tests).
	LanguageInterval time.Duration
	// MaxRepos caps how many repositories get a language fetch.
	MaxRepos int
	// SyncTimeout bounds a background sync started after linking.
	SyncTimeout time.Duration
}

func (c IntegrationConfig) withDefaults() IntegrationConfig {
	if c.LanguageInterval < 0 {
		c.LanguageInterval = DefaultLanguageInterval
	}
	if c.MaxRepos <= 0 {
		c.MaxRepos = DefaultMaxRepos
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	return c
}

// ErrorKind classifies a failed sync for the caller.
type ErrorKind string

const (
	KindAuthExpired  ErrorKind = "auth_expired"
	KindRateLimited  ErrorKind = "rate_limited"
	KindNetworkError ErrorKind = "network_error"
	KindUnknown      ErrorKind = "unknown"
)

// SyncResult is the outcome of one sync. A sync never returns an error value;
// failures are described by ErrorKind and a redacted Message.
type SyncResult struct {
	Success   bool                `json:"success"`
	ErrorKind ErrorKind           `json:"errorKind,omitempty"`
	Message   string              `json:"message,omitempty"`
	Stats     *model.AccountStats `json:"stats,omitempty"`
}

// IntegrationService links GitHub accounts and keeps their stats up to date.
//
// DEPENDENCIES (injected via NewIntegrationService):
//   - users, stats  repositories      → credential fields and AccountStats
//   - states        oauthstate.Store  → anti-forgery tokens for the redirect
//   - gh            GitHubAPI         → OAuth exchange and REST calls
//   - cipher        TokenCipher       → token encryption at rest
//   - metrics, logger
type IntegrationService struct {
	users   repository.UserRepository
	stats   repository.StatsRepository
	states  oauthstate.Store
	gh      GitHubAPI
	cipher  TokenCipher
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     IntegrationConfig
	now     func() time.Time

	locks      *userLocks
	background sync.WaitGroup
}

// NewIntegrationService wires the service. m may be nil.
func NewIntegrationService(
	users repository.UserRepository,
	statsRepo repository.StatsRepository,
	states oauthstate.Store,
	gh GitHubAPI,
	cipher TokenCipher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg IntegrationConfig,
) *IntegrationService {
	return &IntegrationService{
		users:   users,
		stats:   statsRepo,
		states:  states,
		gh:      gh,
		cipher:  cipher,
		metrics: m,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		locks:   newUserLocks(),
	}
}

// StartAuthorization issues an anti-forgery token bound to userID and returns
// the GitHub URL to send the user to. Nothing is persisted besides the token.
func (s *IntegrationService) StartAuthorization(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", apperror.ValidationFailed("userID", "user ID must not be empty")
	}

	state, err := s.states.Issue(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service/integration: issuing state token: %w", err)
	}

	return s.gh.AuthorizeURL(state), nil
}

// CompleteAuthorization handles the OAuth callback and returns the id of the
// user the link belongs to.
//
// ORDER MATTERS:
//  1. Take the state token (check and delete in one step) BEFORE touching
//     GitHub, so a replayed, forged or concurrent duplicate callback never
//     gets to spend an authorization code.
//  2. Exchange the code, then fetch the profile with the fresh token.
//  3. Encrypt and persist with connected=true.
//  4. Kick off a background sync. Its failure is logged only; the account
//     stays linked either way.
func (s *IntegrationService) CompleteAuthorization(ctx context.Context, code, state string) (string, error) {
	userID, ok, err := s.states.Take(ctx, state)
	if err != nil {
		return "", fmt.Errorf("service/integration: taking state: %w", err)
	}
	if !ok {
		return "", apperror.InvalidState()
	}

	token, err := s.gh.ExchangeCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("service/integration: exchanging code: %w", err)
	}

	profile, err := s.gh.FetchProfile(ctx, token)
	if err != nil {
		return "", fmt.Errorf("service/integration: fetching profile: %w", err)
	}

	encrypted, err := s.cipher.Encrypt(token)
	if err != nil {
		return "", fmt.Errorf("service/integration: encrypting token: %w", err)
	}

	if err := s.users.EnsureUser(ctx, userID); err != nil {
		return "", fmt.Errorf("service/integration: ensuring user %s: %w", userID, err)
	}

	link := model.GitHubLink{
		GitHubID:       profile.ID,
		Login:          profile.Login,
		AvatarURL:      profile.AvatarURL,
		ProfileURL:     profile.HTMLURL,
		EncryptedToken: encrypted,
	}
	if err := s.users.SaveGitHubLink(ctx, userID, link); err != nil {
		return "", fmt.Errorf("service/integration: saving github link for user %s: %w", userID, err)
	}

	s.logger.Info("github account linked",
		slog.String("userID", userID),
		slog.String("login", profile.Login),
	)

	s.syncInBackground(userID)
	return userID, nil
}

// syncInBackground runs Sync on its own goroutine with a bounded timeout.
// Wait blocks until every such goroutine has finished.
func (s *IntegrationService) syncInBackground(userID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncTimeout)
		defer cancel()

		res := s.Sync(ctx, userID)
		if !res.Success {
			s.logger.Warn("background sync failed",
				slog.String("userID", userID),
				slog.String("kind", string(res.ErrorKind)),
				slog.String("error", res.Message),
			)
		}
	}()
}

// Wait blocks until background syncs finish or ctx is done.
func (s *IntegrationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service/integration: waiting for background syncs: %w", ctx.Err())
	}
}

// Sync pulls fresh data from GitHub and persists a new AccountStats.
//
// THE PIPELINE:
//
//	load user → decrypt token → check quota → profile → repositories
//	→ top N by stars → languages (one at a time, paced) → aggregate
//	→ re-encrypt token + lastSyncedAt (only if still linked) → upsert stats
//
// The quota check comes first so an almost-exhausted budget aborts before a
// single data call is spent. A failed language fetch for one repository is
// logged and replaced by an empty map; every other failure aborts the run.
//
// Syncs for the same user are serialized. Disconnect does not wait for them;
// a run that finds its credential gone at the end reports auth_expired.
func (s *IntegrationService) Sync(ctx context.Context, userID string) SyncResult {
	unlock := s.locks.lock(userID)
	defer unlock()

	start := s.now()
	logger := s.logger.With(
		slog.String("syncID", xid.New().String()),
		slog.String("userID", userID),
	)
	logger.Info("sync started")

	res := s.runSync(ctx, logger, userID)

	result := "success"
	if !res.Success {
		result = string(res.ErrorKind)
	}
	elapsed := s.now().Sub(start)
	s.metrics.SyncFinished(result, elapsed)

	if res.Success {
		logger.Info("sync finished", slog.Duration("elapsed", elapsed))
	} else {
		logger.Warn("sync failed",
			slog.String("kind", string(res.ErrorKind)),
			slog.String("error", res.Message),
			slog.Duration("elapsed", elapsed),
		)
	}
	return res
}

func (s *IntegrationService) runSync(ctx context.Context, logger *slog.Logger, userID string) SyncResult {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return failure(KindAuthExpired, "GitHub account is not connected")
		}
		return failure(KindUnknown, apperror.Redact(err.Error()))
	}
	if !user.GitHubConnected || user.EncryptedToken == nil {
		return failure(KindAuthExpired, "GitHub account is not connected")
	}

	token, err := s.cipher.Decrypt(*user.EncryptedToken)
	if err != nil {
		// The stored credential is unusable; keep the connection invariant.
		s.resetConnection(ctx, logger, userID)
		return failure(KindUnknown, "stored GitHub credential could not be decrypted; please reconnect")
	}

	// fail classifies err, resets the connection on a rejected credential and
	// builds a redacted result.
	fail := func(step string, err error) SyncResult {
		kind := classify(err)
		if kind == KindAuthExpired {
			s.resetConnection(ctx, logger, userID)
		}
		return failure(kind, apperror.Redact(fmt.Sprintf("%s: %v", step, err), token))
	}

	if _, err := s.gh.CheckQuota(ctx, token); err != nil {
		return fail("checking quota", err)
	}

	profile, err := s.gh.FetchProfile(ctx, token)
	if err != nil {
		return fail("fetching profile", err)
	}

	repos, err := s.gh.FetchRepositories(ctx, profile.Login, token)
	if err != nil {
		return fail("fetching repositories", err)
	}

	languages, err := s.fetchLanguages(ctx, logger, profile.Login, token, stats.TopByStars(repos, s.cfg.MaxRepos))
	if err != nil {
		return fail("fetching languages", err)
	}

	now := s.now()
	summary := stats.Summarize(userID, profile, repos, languages, now)

	// Re-encrypt with a fresh IV and refresh the profile fields GitHub may
	// have changed (login renames, new avatar). The write is conditional on
	// the credential this run started from: a Disconnect or relink that
	// landed mid-sync wins, and this run's result is dropped.
	encrypted, err := s.cipher.Encrypt(token)
	if err != nil {
		return fail("encrypting token", err)
	}
	link := model.GitHubLink{
		GitHubID:       profile.ID,
		Login:          profile.Login,
		AvatarURL:      profile.AvatarURL,
		ProfileURL:     profile.HTMLURL,
		EncryptedToken: encrypted,
		SyncedAt:       &now,
	}
	if err := s.users.RefreshGitHubLink(ctx, userID, *user.EncryptedToken, link); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			logger.Info("github link changed during sync, discarding result")
			return failure(KindAuthExpired, "GitHub account was disconnected or relinked during sync")
		}
		return fail("saving github link", err)
	}

	if err := s.stats.UpsertStats(ctx, &summary); err != nil {
		return fail("saving stats", err)
	}

	return SyncResult{Success: true, Stats: &summary}
}

// fetchLanguages calls FetchLanguages for each repository in order, one at a
// time, paced by a token bucket (burst 1: one call per interval).
//
// A failure for one repository is logged, counted and replaced by an empty
// map. Only a cancelled or expired ctx stops the loop.
func (s *IntegrationService) fetchLanguages(ctx context.Context, logger *slog.Logger, login, token string, repos []github.Repository) ([]github.LanguageBytes, error) {
	limit := rate.Inf
	if s.cfg.LanguageInterval > 0 {
		limit = rate.Every(s.cfg.LanguageInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	result := make([]github.LanguageBytes, 0, len(repos))
	for _, repo := range repos {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pacing language requests: %w", err)
		}

		owner := repo.Owner.Login
		if owner == "" {
			owner = login
		}

		langs, err := s.gh.FetchLanguages(ctx, owner, repo.Name, token)
		if err != nil {
			s.metrics.LanguageFetchFailed()
			logger.Warn("language fetch failed, continuing",
				slog.String("repo", repo.Name),
				slog.String("error", apperror.Redact(err.Error(), token)),
			)
			langs = github.LanguageBytes{}
		}
		result = append(result, langs)
	}
	return result, nil
}

// resetConnection clears the credential after GitHub rejected it.
func (s *IntegrationService) resetConnection(ctx context.Context, logger *slog.Logger, userID string) {
	if err := s.users.ClearGitHubCredential(ctx, userID); err != nil {
		logger.Error("failed to reset github connection", slog.String("error", err.Error()))
		return
	}
	logger.Info("github connection reset, credential cleared")
}

// Disconnect forgets the credential. Stats are kept. Idempotent.
func (s *IntegrationService) Disconnect(ctx context.Context, userID string) error {
	if err := s.users.ClearGitHubCredential(ctx, userID); err != nil {
		return fmt.Errorf("service/integration: disconnecting user %s: %w", userID, err)
	}
	s.logger.Info("github account disconnected", slog.String("userID", userID))
	return nil
}

// Stats returns the last persisted summary, apperror.ErrNotFound if none.
func (s *IntegrationService) Stats(ctx context.Context, userID string) (*model.AccountStats, error) {
	st, err := s.stats.GetStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/integration: getting stats for user %s: %w", userID, err)
	}
	return st, nil
}

// Status summarizes the link. Unknown users are reported as not connected.
func (s *IntegrationService) Status(ctx context.Context, userID string) (*model.ConnectionStatus, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return &model.ConnectionStatus{}, nil
		}
		return nil, fmt.Errorf("service/integration: getting user %s: %w", userID, err)
	}

	st := &model.ConnectionStatus{
		Connected:    user.GitHubConnected,
		LastSyncedAt: user.LastSyncedAt,
	}
	if user.GitHubConnected {
		st.Login = user.GitHubLogin
		st.AvatarURL = user.AvatarURL
		st.ProfileURL = user.ProfileURL
	}
	return st, nil
}

func failure(kind ErrorKind, msg string) SyncResult {
	return SyncResult{Success: false, ErrorKind: kind, Message: msg}
}

// classify maps an error to the kind reported to callers.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, apperror.ErrAuth):
		return KindAuthExpired
	case errors.Is(err, apperror.ErrRateLimit):
		return KindRateLimited
	case errors.Is(err, apperror.ErrNetwork):
		return KindNetworkError
	default:
		return KindUnknown
	}
}
