package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/service"
)

// TokenIssuer is what AuthHandler needs from *service.AuthService.
type TokenIssuer interface {
	IssueToken(apiKey, subject string, ttl time.Duration) (*service.TokenGrant, error)
}

// AuthHandler serves token exchange and caller introspection.
//
//   - HandleToken → trade an X-API-Key for a bearer token
//   - HandleMe    → report who the current credentials belong to
type AuthHandler struct {
	issuer TokenIssuer
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(issuer TokenIssuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		issuer: issuer,
		logger: logger,
	}
}

type tokenRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

// TokenResponse is the POST /auth/token body.
type TokenResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HandleToken handles POST /auth/token.
//
// The API key travels in the X-API-Key header, never in the body, so it is
// handled the same way as on every other route.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4096)

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("", "invalid JSON body"))
		return
	}

	// Bounded before the conversion so a huge value cannot wrap into a valid one.
	if req.TTLSeconds < 0 || req.TTLSeconds > int64(service.MaxTokenTTL/time.Second) {
		writeError(w, apperror.ValidationFailed("ttlSeconds", fmt.Sprintf("ttl must be between 1s and %s", service.MaxTokenTTL)))
		return
	}

	grant, err := h.issuer.IssueToken(r.Header.Get(auth.APIKeyHeader), req.Subject, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     grant.Token,
		Subject:   grant.Subject,
		ExpiresAt: grant.ExpiresAt,
	})
}

// HandleMe handles GET /auth/me. It must sit behind auth.RequireAuth.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caller": caller})
}
