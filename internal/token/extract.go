// Package token pulls a credential out of a request. It checks a fixed
// precedence of sources and has no side effects beyond restoring the body
// after a peek.
package token

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// CookieName is the admin session cookie.
	CookieName = "admin_token"

	maxBodyPeek = 1 << 20 // 1 MiB
)

// Extract returns the first non-empty credential found, in order:
// Authorization Bearer, Authorization Token, ?token= query parameter,
// body field "token" (form or JSON), admin_token cookie. Returns "" when
// no source yields a value.
func Extract(r *http.Request) string {
	if tok := FromAuthorizationHeader(r); tok != "" {
		return tok
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if tok := fromBody(r); tok != "" {
		return tok
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// FromAuthorizationHeader parses "Bearer <v>" or "Token <v>", scheme
// case-insensitive.
func FromAuthorizationHeader(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	switch strings.ToLower(parts[0]) {
	case "bearer", "token":
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// fromBody peeks at a form-encoded or JSON body for a "token" field. The
// body is restored so downstream handlers can read it again.
func fromBody(r *http.Request) string {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return ""
		}
		return values.Get("token")
	case strings.Contains(ct, "application/json"):
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return ""
		}
		if tok, ok := fields["token"].(string); ok {
			return tok
		}
	}
	return ""
}
