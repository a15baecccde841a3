// Package github talks to the GitHub OAuth endpoints and REST API.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the user to GitHub with our ClientID, scopes and a state token.
//  2. The user approves on GitHub.
//  3. GitHub redirects back to our callback with a short-lived "code".
//  4. ExchangeCode trades the code for a durable access token (server to server).
//  5. The token authenticates every later REST call made here.
//
// Every operation is a single attempt. Nothing is retried internally; the
// caller decides what is worth retrying based on the typed error it gets back
// (apperror.ErrAuth, ErrRateLimit, ErrNetwork, ...).
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/devstats/internal/apperror"
	"github.com/sakif/devstats/internal/metrics"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"

	// QuotaFloor is the minimum remaining call budget needed to start a sync.
	QuotaFloor = 10

	apiVersion = "2022-11-28"
	perPage    = 100
)

// Config holds the OAuth app credentials and endpoints.
//
// You get ClientID and ClientSecret by registering an OAuth App at
// https://github.com/settings/developers. CallbackURL must match the
// "Authorization callback URL" configured there exactly.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// APIURL overrides DefaultAPIURL (GitHub Enterprise, tests).
	APIURL string
	// Endpoint overrides github.Endpoint (tests).
	Endpoint *oauth2.Endpoint
	// HTTPClient is used for both the token exchange and REST calls.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient builds a Client. Scopes requested: "read:user", enough for the
// profile and public repository data we aggregate.
func NewClient(cfg Config, m *metrics.Metrics) *Client {
	endpoint := github.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user"},
			Endpoint:     endpoint,
		},
		apiURL:     apiURL,
		httpClient: httpClient,
		metrics:    m,
	}
}

// AuthorizeURL returns the GitHub authorization page URL carrying state.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode trades a one-time authorization code for an access token.
//
// GitHub answers a stale or reused code with HTTP 200 and an "error" field
// (bad_verification_code); x/oauth2 surfaces that as *oauth2.RetrieveError,
// which we map to apperror.ErrInvalidCode.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	const op = "exchange_code"

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		mapped := classifyExchangeError(err)
		c.metrics.GitHubRequest(op, outcome(mapped))
		return "", mapped
	}
	if tok.AccessToken == "" {
		c.metrics.GitHubRequest(op, outcome(apperror.ErrInvalidCode))
		return "", apperror.InvalidCode("github: token response had no access token")
	}

	c.metrics.GitHubRequest(op, "ok")
	return tok.AccessToken, nil
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return apperror.Network("github: token endpoint", fmt.Errorf("status %d", retrieveErr.Response.StatusCode))
		}
		reason := retrieveErr.ErrorCode
		if reason == "" {
			reason = "code exchange rejected"
		}
		return apperror.InvalidCode("github: " + reason)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperror.Network("github: token endpoint", urlErr.Err)
	}

	return apperror.InvalidCode("github: " + err.Error())
}

// CheckQuota reads the remaining core budget. It fails with ErrRateLimit when
// fewer than QuotaFloor calls remain, so a sync never starts that cannot finish.
func (c *Client) CheckQuota(ctx context.Context, token string) (*Quota, error) {
	const op = "check_quota"

	var body rateLimitResponse
	if _, err := c.getJSON(ctx, op, token, c.apiURL+"/rate_limit", &body); err != nil {
		return nil, err
	}

	core := body.Resources.Core
	quota := &Quota{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     time.Unix(core.Reset, 0).UTC(),
	}

	if quota.Remaining < QuotaFloor {
		return quota, apperror.RateLimited(fmt.Sprintf(
			"github: only %d API calls remaining (need %d), resets at %s",
			quota.Remaining, QuotaFloor, quota.Reset.Format(time.RFC3339)))
	}
	return quota, nil
}

// FetchProfile returns the authenticated user's profile.
func (c *Client) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	var p Profile
	if _, err := c.getJSON(ctx, "fetch_profile", token, c.apiURL+"/user", &p); err != nil {
		return nil, err
	}
	if p.ID == 0 || p.Login == "" {
		return nil, fmt.Errorf("github: /user returned an incomplete profile")
	}
	return &p, nil
}

// FetchRepositories lists every repository owned by login, following the Link
// header page by page, and drops private ones. Order is whatever GitHub sends.
func (c *Client) FetchRepositories(ctx context.Context, login, token string) ([]Repository, error) {
	next := fmt.Sprintf("%s/users/%s/repos?per_page=%d&type=owner&sort=updated",
		c.apiURL, url.PathEscape(login), perPage)

	var repos []Repository
	for next != "" {
		var page []Repository
		resp, err := c.getJSON(ctx, "fetch_repositories", token, next, &page)
		if err != nil {
			return nil, err
		}

		for _, r := range page {
			if !r.Private {
				repos = append(repos, r)
			}
		}
		next = nextPageURL(resp.Header.Get("Link"))
	}

	return repos, nil
}

// FetchLanguages returns the byte count per language for one repository.
// A 404 (repository deleted or renamed since listing) is an empty map, not an error.
func (c *Client) FetchLanguages(ctx context.Context, owner, repo, token string) (LanguageBytes, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/languages", c.apiURL, url.PathEscape(owner), url.PathEscape(repo))

	langs := LanguageBytes{}
	if _, err := c.getJSON(ctx, "fetch_languages", token, endpoint, &langs); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return LanguageBytes{}, nil
		}
		return nil, err
	}
	return langs, nil
}

// getJSON performs an authenticated GET, maps failures to apperror kinds and
// decodes a 200 body into out. The response is returned (body closed) so
// callers can read headers such as Link.
func (c *Client) getJSON(ctx context.Context, op, token, endpoint string, out any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: building %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	// oauth2.NewClient adds "Authorization: Bearer <token>" to every request
	// and reuses our http.Client (timeouts, transport) underneath.
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(authCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	resp, err := client.Do(req)
	if err != nil {
		netErr := apperror.Network("github: "+op, unwrapURLError(err))
		c.metrics.GitHubRequest(op, outcome(netErr))
		return nil, netErr
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp); err != nil {
		c.metrics.GitHubRequest(op, outcome(err))
		return resp, err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.GitHubRequest(op, "decode_error")
		return resp, fmt.Errorf("github: decoding %s response: %w", op, err)
	}

	c.metrics.GitHubRequest(op, "ok")
	return resp, nil
}

// classifyStatus maps a non-200 status to an apperror kind.
//
// 403 is ambiguous on GitHub: it means "quota exhausted" when
// X-RateLimit-Remaining is 0 and "not allowed" otherwise.
func classifyStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return apperror.Auth(fmt.Sprintf("github: %s: credential rejected (401)", op))
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && quotaExhausted(resp.Header):
		return apperror.RateLimited(fmt.Sprintf("github: %s: rate limit exceeded (%d)", op, resp.StatusCode))
	case resp.StatusCode == http.StatusForbidden:
		return apperror.Forbidden(fmt.Sprintf("github: %s: forbidden (403)", op))
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NotFound("github resource", op)
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperror.Network("github: "+op, fmt.Errorf("upstream status %d", resp.StatusCode))
	default:
		return fmt.Errorf("github: %s returned status %d", op, resp.StatusCode)
	}
}

func quotaExhausted(h http.Header) bool {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return false
	}
	n, err := strconv.Atoi(remaining)
	return err == nil && n <= 0
}

// nextPageURL extracts the rel="next" target from a Link header:
//
//	<https://api.github.com/user/1/repos?page=2>; rel="next", <...>; rel="last"
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(strings.TrimSpace(part), ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

// unwrapURLError drops the *url.Error envelope (which repeats the full URL)
// and keeps the underlying transport cause.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// outcome turns an error into a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperror.ErrAuth):
		return "auth_error"
	case errors.Is(err, apperror.ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, apperror.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperror.ErrNetwork):
		return "network_error"
	case errors.Is(err, apperror.ErrInvalidCode):
		return "invalid_code"
	default:
		return "error"
	}
}
