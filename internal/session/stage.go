package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sendgate/sendgate/internal/gate"
	"github.com/sendgate/sendgate/internal/token"
)

// recordKey is the context key for the authenticated session record.
type recordKey struct{}

// Stage adapts the Manager into an admission pipeline stage for the admin
// surface.
type Stage struct {
	Manager   *Manager
	LoginPath string
}

var _ gate.Stage = (*Stage)(nil)

func (s *Stage) Name() string { return "admin-session" }

func (s *Stage) Admit(r *http.Request) (*http.Request, *gate.Rejection) {
	tok := token.Extract(r)
	if tok == "" {
		return nil, s.reject(gate.ReasonMissingCredential, http.StatusUnauthorized, "missing session token")
	}

	rec, err := s.Manager.Authenticate(r.Context(), tok, ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrIPMismatch):
			return nil, s.reject(gate.ReasonIPMismatch, http.StatusUnauthorized, "session was created from a different address")
		case errors.Is(err, ErrInvalidSession):
			return nil, s.reject(gate.ReasonInvalidOrExpiredSession, http.StatusUnauthorized, "session is invalid or has expired")
		default:
			return nil, s.reject(gate.ReasonBackendUnavailable, http.StatusServiceUnavailable, "session store unavailable")
		}
	}

	ctx := context.WithValue(r.Context(), recordKey{}, rec)
	return r.WithContext(ctx), nil
}

func (s *Stage) reject(reason gate.Reason, status int, msg string) *gate.Rejection {
	return &gate.Rejection{
		Status:     status,
		Reason:     reason,
		Message:    msg,
		RedirectTo: s.LoginPath,
	}
}

// FromContext returns the session record attached by the stage, or nil.
func FromContext(ctx context.Context) *Record {
	if rec, ok := ctx.Value(recordKey{}).(*Record); ok {
		return rec
	}
	return nil
}

// ClientIP extracts the request's source address, honoring the leftmost
// X-Forwarded-For entry when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
