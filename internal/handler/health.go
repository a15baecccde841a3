package handler

import (
	"log/slog"
	"net/http"
)

// Pinger is anything that can report whether a dependency is reachable.
type Pinger interface {
	Ping() error
}

// HealthHandler serves GET /healthz for load balancers and orchestrators.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth answers 200 {"status":"ok"}, or 503 when the database is down.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
