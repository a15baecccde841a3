package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/devstats/internal/apperror"
	"github.com/sakif/devstats/internal/auth"
	"github.com/sakif/devstats/internal/metrics"
	"github.com/sakif/devstats/internal/model"
	"github.com/sakif/devstats/internal/service"
)

// Integrations is the part of *service.IntegrationService the handler uses.
// Tests swap in a fake.
type Integrations interface {
	StartAuthorization(ctx context.Context, userID string) (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (string, error)
	Sync(ctx context.Context, userID string) service.SyncResult
	Disconnect(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) (*model.AccountStats, error)
	Status(ctx context.Context, userID string) (*model.ConnectionStatus, error)
}

// Callback redirect reasons, sent to the frontend as ?github=error&reason=...
const (
	ReasonMissingCode  = "missing_code"
	ReasonMissingState = "missing_state"
	ReasonInvalidState = "invalid_state"
	ReasonInvalidCode  = "invalid_code"
	ReasonRateLimit    = "rate_limit"
	ReasonNetwork      = "network_error"
	ReasonUnexpected   = "unexpected_error"
)

// IntegrationHandler serves the /integrations routes.
//
// ROUTES:
//   - GET  /integrations/start       (auth)   → {"url": "<github authorize url>"}
//   - GET  /integrations/callback    (public) → 303 to the frontend
//   - POST /integrations/sync        (auth)   → stats, or 401/429/500
//   - POST /integrations/disconnect  (auth)   → 200
//   - GET  /integrations/stats       (auth)   → stats or 404
//   - GET  /integrations/status      (auth)   → connection summary
type IntegrationHandler struct {
	svc         Integrations
	frontendURL string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewIntegrationHandler creates an IntegrationHandler. frontendURL is where the
// browser lands after the OAuth callback, with the outcome in the query.
func NewIntegrationHandler(svc Integrations, frontendURL string, m *metrics.Metrics, logger *slog.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		svc:         svc,
		frontendURL: frontendURL,
		metrics:     m,
		logger:      logger,
	}
}

// HandleStart returns the GitHub authorization URL for the signed-in user.
//
// HTTP: GET /integrations/start
//
// We answer with JSON instead of a 302 so a single-page frontend calling
// this with fetch() can navigate the whole window to GitHub itself.
func (h *IntegrationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("authentication required"))
		return
	}

	authURL, err := h.svc.StartAuthorization(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to start github authorization",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

// HandleCallback completes the OAuth flow.
//
// HTTP: GET /integrations/callback?code=xxx&state=yyy
//
// This route is PUBLIC: the request comes from GitHub's redirect, and the
// state token (not a session cookie) is what proves which user started it.
// Every outcome is a redirect to the frontend; the browser never sees JSON here.
func (h *IntegrationHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")

	switch {
	case code == "":
		if denied := q.Get("error"); denied != "" {
			h.logger.Info("github authorization denied", slog.String("error", denied))
		}
		h.redirectError(w, r, ReasonMissingCode)
		return
	case state == "":
		h.redirectError(w, r, ReasonMissingState)
		return
	}

	userID, err := h.svc.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		reason := callbackReason(err)
		h.logger.Warn("github callback failed",
			slog.String("reason", reason),
			slog.String("error", apperror.Redact(err.Error(), code)),
		)
		h.redirectError(w, r, reason)
		return
	}

	h.metrics.Callback("connected")
	h.logger.Info("github callback completed", slog.String("userID", userID))
	h.redirect(w, r, url.Values{"github": {"connected"}})
}

// HandleSync runs a sync and waits for it.
//
// HTTP: POST /integrations/sync
//
// The sync runs on a context detached from the request: a client that gives
// up mid-sync only abandons the response, the server-side run completes.
func (h *IntegrationHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("authentication required"))
		return
	}

	res := h.svc.Sync(context.WithoutCancel(r.Context()), userID)
	if res.Success {
		writeJSON(w, http.StatusOK, res.Stats)
		return
	}

	status := http.StatusInternalServerError
	switch res.ErrorKind {
	case service.KindAuthExpired:
		status = http.StatusUnauthorized
	case service.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, ErrorResponse{
		Error:   string(res.ErrorKind),
		Message: res.Message,
	})
}

// HandleDisconnect forgets the stored credential. Stats are kept.
// Always 200.
//
// HTTP: POST /integrations/disconnect
func (h *IntegrationHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("authentication required"))
		return
	}

	// The frontend treats disconnect as fire-and-forget, so the answer is 200
	// either way; a storage failure only shows up in the log.
	if err := h.svc.Disconnect(r.Context(), userID); err != nil {
		h.logger.Error("failed to disconnect github",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
}

// HandleStats returns the last persisted stats.
//
// HTTP: GET /integrations/stats
func (h *IntegrationHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("authentication required"))
		return
	}

	st, err := h.svc.Stats(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			h.logger.Error("failed to load stats",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// HandleStatus reports whether GitHub is connected.
//
// HTTP: GET /integrations/status
func (h *IntegrationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Auth("authentication required"))
		return
	}

	st, err := h.svc.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load connection status",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (h *IntegrationHandler) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	h.metrics.Callback(reason)
	h.redirect(w, r, url.Values{"github": {"error"}, "reason": {reason}})
}

// redirect sends the browser to the frontend with params merged into any
// query the configured URL already has.
func (h *IntegrationHandler) redirect(w http.ResponseWriter, r *http.Request, params url.Values) {
	target, err := url.Parse(h.frontendURL)
	if err != nil {
		// Config validation rejects bad URLs at startup; this is a last resort.
		h.logger.Error("invalid frontend URL", slog.String("error", err.Error()))
		http.Error(w, "misconfigured redirect", http.StatusInternalServerError)
		return
	}

	q := target.Query()
	for k, vs := range params {
		q[k] = vs
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// callbackReason maps a CompleteAuthorization error to a redirect reason.
func callbackReason(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInvalidState):
		return ReasonInvalidState
	case errors.Is(err, apperror.ErrInvalidCode):
		return ReasonInvalidCode
	case errors.Is(err, apperror.ErrRateLimit):
		return ReasonRateLimit
	case errors.Is(err, apperror.ErrNetwork):
		return ReasonNetwork
	default:
		return ReasonUnexpected
	}
}
