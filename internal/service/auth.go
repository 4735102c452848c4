package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/auth"
)

// MaxTokenTTL bounds the lifetime a caller can ask for.
const MaxTokenTTL = 7 * 24 * time.Hour

// AuthService exchanges an API key for a bearer token.
//
//	AuthHandler (HTTP) → AuthService → KeyRing (bcrypt check)
//	                                 ↘ TokenService (JWT)
//
// A bcrypt comparison costs tens of milliseconds; a client that submits many
// jobs trades its key once and then sends the cheap-to-verify JWT.
type AuthService struct {
	keys   *auth.KeyRing
	tokens *auth.TokenService
	logger *slog.Logger
}

// NewAuthService creates an AuthService. Both dependencies are required.
func NewAuthService(keys *auth.KeyRing, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{
		keys:   keys,
		tokens: tokens,
		logger: logger,
	}
}

// TokenGrant is an issued token.
type TokenGrant struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

// IssueToken verifies apiKey and returns a token for subject. A zero ttl
// means auth.DefaultTokenTTL.
func (s *AuthService) IssueToken(apiKey, subject string, ttl time.Duration) (*TokenGrant, error) {
	if apiKey == "" || !s.keys.Verify(apiKey) {
		s.logger.Warn("token request with invalid API key", slog.String("subject", subject))
		return nil, apperror.Unauthorized("invalid API key")
	}
	if subject == "" {
		return nil, apperror.ValidationFailed("subject", "subject is required")
	}
	switch {
	case ttl == 0:
		ttl = auth.DefaultTokenTTL
	case ttl < 0 || ttl > MaxTokenTTL:
		return nil, apperror.ValidationFailed("ttlSeconds", fmt.Sprintf("ttl must be between 1s and %s", MaxTokenTTL))
	}

	token, err := s.tokens.GenerateWithDuration(subject, ttl)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", subject, err)
	}

	s.logger.Info("token issued", slog.String("subject", subject), slog.Duration("ttl", ttl))

	return &TokenGrant{
		Token:     token,
		Subject:   subject,
		ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second),
	}, nil
}
