package service

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/auth"
)

const testAPIKey = "judge-frontend-key"

// newTestAuthService returns an AuthService that accepts testAPIKey, plus the
// TokenService so tests can check what it issued.
func newTestAuthService(t *testing.T) (*AuthService, *auth.TokenService) {
	t.Helper()

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	hash, err := auth.HashKey(testAPIKey)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	keys, err := auth.NewKeyRing([]string{hash})
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAuthService(keys, ts, logger), ts
}

func TestIssueToken_RoundTrip(t *testing.T) {
	svc, ts := newTestAuthService(t)

	grant, err := svc.IssueToken(testAPIKey, "frontend", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if grant.Subject != "frontend" {
		t.Errorf("Subject = %q, want %q", grant.Subject, "frontend")
	}

	subject, err := ts.Validate(grant.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if subject != "frontend" {
		t.Errorf("token subject = %q, want %q", subject, "frontend")
	}

	untilExpiry := time.Until(grant.ExpiresAt)
	if untilExpiry < 59*time.Minute || untilExpiry > time.Hour {
		t.Errorf("ExpiresAt is %s away, want about 1h", untilExpiry)
	}
}

func TestIssueToken_DefaultTTL(t *testing.T) {
	svc, _ := newTestAuthService(t)

	grant, err := svc.IssueToken(testAPIKey, "frontend", 0)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if d := time.Until(grant.ExpiresAt); d < auth.DefaultTokenTTL-time.Minute {
		t.Errorf("ExpiresAt is %s away, want about %s", d, auth.DefaultTokenTTL)
	}
}

func TestIssueToken_Rejects(t *testing.T) {
	svc, _ := newTestAuthService(t)

	tests := []struct {
		name     string
		key      string
		subject  string
		ttl      time.Duration
		sentinel error
	}{
		{"missing key", "", "frontend", time.Hour, apperror.ErrUnauthorized},
		{"wrong key", "guess", "frontend", time.Hour, apperror.ErrUnauthorized},
		{"missing subject", testAPIKey, "", time.Hour, apperror.ErrValidation},
		{"negative ttl", testAPIKey, "frontend", -time.Second, apperror.ErrValidation},
		{"ttl too long", testAPIKey, "frontend", MaxTokenTTL + time.Second, apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.IssueToken(tt.key, tt.subject, tt.ttl)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("IssueToken() error = %v, want %v", err, tt.sentinel)
			}
		})
	}
}
