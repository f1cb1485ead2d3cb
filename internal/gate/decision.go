// Package gate defines the admission decision model: the rejection taxonomy,
// the stable JSON envelope returned to callers, and the ordered stage
// pipeline that runs in front of the dispatch handler.
package gate

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Reason identifies why a request was refused admission.
type Reason string

const (
	ReasonMissingCredential        Reason = "missing_credential"
	ReasonInvalidCredential        Reason = "invalid_credential"
	ReasonInvalidOrExpiredSession  Reason = "invalid_or_expired_session"
	ReasonIPMismatch               Reason = "ip_mismatch"
	ReasonMissingSignatureData     Reason = "missing_signature_data"
	ReasonInvalidSignature         Reason = "invalid_signature"
	ReasonTimestampTooOld          Reason = "timestamp_too_old"
	ReasonRateLimitExceeded        Reason = "rate_limit_exceeded"
	ReasonBackendUnavailable       Reason = "backend_unavailable"
	ReasonInsufficientPrivileges   Reason = "insufficient_privileges"
)

// RateLimitInfo carries limiter usage attached to a denial so the envelope
// and response headers can report it.
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Rejection is a terminal admission decision. Stages return it instead of
// raising; nothing crosses the pipeline boundary as a panic or bare error.
type Rejection struct {
	Status    int
	Reason    Reason
	Message   string
	RateLimit *RateLimitInfo

	// RedirectTo, when set, sends browser clients to the login entry point
	// instead of the JSON envelope.
	RedirectTo string
}

// envelope is the stable rejection body shared by every authenticator and
// limiter.
type envelope struct {
	Error      string         `json:"error"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code"`
	RateLimit  *RateLimitInfo `json:"rate_limit,omitempty"`
}

// WantsJSON reports whether the client should receive a structured body
// rather than a login redirect: API paths, JSON Accept headers, and
// XMLHttpRequest callers all count as JSON clients.
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/") || strings.HasPrefix(r.URL.Path, "/webhooks/") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// Write renders the rejection: X-RateLimit/Retry-After headers when limiter
// usage is attached, then either a redirect for browser clients or the JSON
// envelope.
func (rj *Rejection) Write(w http.ResponseWriter, r *http.Request) {
	if rl := rj.RateLimit; rl != nil {
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		if retry := time.Until(rl.ResetAt); retry > 0 {
			h.Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		}
	}

	if rj.RedirectTo != "" && !WantsJSON(r) {
		http.Redirect(w, r, rj.RedirectTo+"?message="+url.QueryEscape(rj.Message), http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rj.Status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error:      string(rj.Reason),
		Message:    rj.Message,
		StatusCode: rj.Status,
		RateLimit:  rj.RateLimit,
	})
}
