package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const callerKey contextKey = "caller"

// APIKeyHeader carries a static API key.
const APIKeyHeader = "X-API-Key"

// RequireAuth rejects requests that carry neither a valid bearer token nor a
// valid API key. Either argument may be nil to disable that credential kind.
//
// The authenticated caller (token subject, or "api-key") is stored in the
// request context for logging.
func RequireAuth(tokens *TokenService, keys *KeyRing) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := authenticate(r, tokens, keys)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="code-runner"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "valid authentication required",
					"kind":  "unauthorized",
				})
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns who made the request, if it was authenticated.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey).(string)
	return caller, ok && caller != ""
}

func authenticate(r *http.Request, tokens *TokenService, keys *KeyRing) (string, bool) {
	if tokens != nil {
		if raw, ok := bearerToken(r); ok {
			if subject, err := tokens.Validate(raw); err == nil {
				return subject, true
			}
		}
	}
	if keys != nil {
		if key := r.Header.Get(APIKeyHeader); key != "" && keys.Verify(key) {
			return "api-key", true
		}
	}
	return "", false
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is case-insensitive (RFC 6750).
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
