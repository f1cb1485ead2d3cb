// Package auth carries the two API-layer credential checks: the
// deployment-wide shared secret that admits requests, and the project-key
// format/identity helpers used for tenant-aware rate limiting. They are
// distinct tiers and are not merged.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/sendgate/sendgate/internal/gate"
	"github.com/sendgate/sendgate/internal/token"
)

// identityKey is the context key for the authenticated API identity.
type identityKey struct{}

// APIAuthenticator checks the Authorization header against the configured
// shared secret.
type APIAuthenticator struct {
	secret      string
	healthPaths map[string]struct{}
	logger      *slog.Logger
}

var _ gate.Stage = (*APIAuthenticator)(nil)

// NewAPIAuthenticator builds the static-secret authenticator. healthPaths
// are exempt from authentication entirely.
func NewAPIAuthenticator(secret string, healthPaths []string, logger *slog.Logger) *APIAuthenticator {
	hp := make(map[string]struct{}, len(healthPaths))
	for _, p := range healthPaths {
		hp[p] = struct{}{}
	}
	return &APIAuthenticator{secret: secret, healthPaths: hp, logger: logger}
}

func (a *APIAuthenticator) Name() string { return "api-auth" }

// Admit validates the bearer token. A missing configured secret is a fatal
// configuration error: every request is rejected and the condition is logged
// at error severity rather than silently open.
func (a *APIAuthenticator) Admit(r *http.Request) (*http.Request, *gate.Rejection) {
	if _, exempt := a.healthPaths[r.URL.Path]; exempt {
		return r, nil
	}

	if a.secret == "" {
		a.logger.Error("api secret not configured, rejecting all requests",
			slog.String("path", r.URL.Path))
		return nil, &gate.Rejection{
			Status:  http.StatusUnauthorized,
			Reason:  gate.ReasonInvalidCredential,
			Message: "authentication is not configured",
		}
	}

	tok := token.FromAuthorizationHeader(r)
	if tok == "" {
		return nil, &gate.Rejection{
			Status:  http.StatusUnauthorized,
			Reason:  gate.ReasonMissingCredential,
			Message: "missing bearer token",
		}
	}

	if subtle.ConstantTimeCompare([]byte(tok), []byte(a.secret)) != 1 {
		a.logger.Warn("invalid api credential",
			slog.String("token_prefix", Truncate(tok, 8)),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("path", r.URL.Path),
		)
		return nil, &gate.Rejection{
			Status:  http.StatusUnauthorized,
			Reason:  gate.ReasonInvalidCredential,
			Message: "invalid bearer token",
		}
	}

	a.logger.Info("api request authenticated",
		slog.String("token_prefix", Truncate(tok, 8)),
		slog.String("path", r.URL.Path),
	)
	ctx := context.WithValue(r.Context(), identityKey{}, tok)
	return r.WithContext(ctx), nil
}

// Identity returns the validated API identity from context, or "".
func Identity(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey{}).(string); ok {
		return id
	}
	return ""
}

// Truncate returns at most n leading characters of s, for log-safe
// credential prefixes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
