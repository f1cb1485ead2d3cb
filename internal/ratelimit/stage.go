package ratelimit

import (
	"context"
	"net/http"

	"github.com/sendgate/sendgate/internal/auth"
	"github.com/sendgate/sendgate/internal/gate"
	"github.com/sendgate/sendgate/internal/session"
)

// resultKey is the context key for the limiter result consumed by the
// response header middleware.
type resultKey struct{}

// holderKey carries a mutable result slot attached before the pipeline runs,
// so middleware wrapping the original request can still see the result after
// the pipeline swapped the request for one with an enriched context.
type holderKey struct{}

// Holder is a mutable slot for the limiter result and the advisory usage
// snapshot recorded alongside it.
type Holder struct {
	Result   *Result
	Advisory *Snapshot
}

// WithHolder attaches an empty result slot to the context.
func WithHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, holderKey{}, &Holder{})
}

// HolderFromContext returns the attached slot, or nil.
func HolderFromContext(ctx context.Context) *Holder {
	if h, ok := ctx.Value(holderKey{}).(*Holder); ok {
		return h
	}
	return nil
}

// Stage adapts the fixed-window limiter into an admission stage for one
// endpoint class.
type Stage struct {
	Limiter  *FixedWindow
	Advisory *Advisory
	Class    string
}

var _ gate.Stage = (*Stage)(nil)

func (s *Stage) Name() string { return "ratelimit-" + s.Class }

func (s *Stage) Admit(r *http.Request) (*http.Request, *gate.Rejection) {
	identity := ResolveIdentity(r)
	res := s.Limiter.CheckAndRecord(r.Context(), s.Class, identity)
	h := HolderFromContext(r.Context())
	if h != nil {
		h.Result = &res
	}
	if s.Advisory != nil {
		snap := s.Advisory.Record(identity)
		if h != nil {
			h.Advisory = &snap
		}
	}

	if !res.Allowed {
		return nil, &gate.Rejection{
			Status:  http.StatusTooManyRequests,
			Reason:  gate.ReasonRateLimitExceeded,
			Message: "rate limit exceeded for " + s.Class,
			RateLimit: &gate.RateLimitInfo{
				Limit:     res.Limit,
				Remaining: res.Remaining,
				ResetAt:   res.ResetAt,
			},
		}
	}

	ctx := context.WithValue(r.Context(), resultKey{}, &res)
	return r.WithContext(ctx), nil
}

// ResultFromContext returns the limiter result attached by the stage, or nil.
func ResultFromContext(ctx context.Context) *Result {
	if res, ok := ctx.Value(resultKey{}).(*Result); ok {
		return res
	}
	return nil
}

// ResolveIdentity prefers a hashed API-key identity over the raw source
// address, so limiting is tenant-aware where a project-scoped key is
// present. Credentials not in the project-key format (short legacy shared
// secrets) fall back to the source address so one deployment-wide secret
// does not collapse every caller into a single bucket. Raw keys never
// appear in counter keys or logs.
func ResolveIdentity(r *http.Request) string {
	if id := auth.Identity(r.Context()); id != "" && auth.ValidKeyFormat(id) {
		return "key:" + auth.HashIdentity(id)
	}
	if rec := session.FromContext(r.Context()); rec != nil {
		return "admin:" + rec.Email
	}
	return "ip:" + session.ClientIP(r)
}
