package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/code-runner/internal/language"
)

// Pinger is anything the health check should ping (the history database).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and the languages this instance accepts.
type HealthHandler struct {
	languages []language.Language
	db        Pinger
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db may be nil.
func NewHealthHandler(languages []language.Language, db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{languages: languages, db: db, logger: logger}
}

type healthResponse struct {
	Status    string              `json:"status"`
	Languages []language.Language `json:"languages"`
	History   string              `json:"history,omitempty"`
}

// HandleHealth handles GET /healthz. A broken history database degrades the
// report but keeps the status code at 200: jobs still run without it.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Languages: h.languages}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp.History = "ok"
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("history database unreachable", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.History = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
