// Package ratelimit enforces per-identity request budgets. The primary
// strategy is a fixed-window counter in the shared keystore; a secondary
// advisory tracker feeds response headers without enforcing anything.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendgate/sendgate/internal/keystore"
)

// Endpoint classes resolved against the per-class limit table.
const (
	ClassSend    = "send"
	ClassWebhook = "webhook"
	ClassAdmin   = "admin"
	ClassHealth  = "health"
)

// Limit is a window budget: MaxAttempts requests per Decay.
type Limit struct {
	MaxAttempts int
	Decay       time.Duration
}

// Result is the outcome of a limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FixedWindow counts requests in the keystore under
// {prefix}:{endpoint}:{identity}. The counter's TTL is the window; expiry is
// the reset. Denial never rolls the count back.
type FixedWindow struct {
	store    keystore.Store
	prefix   string
	limits   map[string]Limit
	fallback Limit
	logger   *slog.Logger
	now      func() time.Time
}

// NewFixedWindow builds the limiter. limits maps endpoint classes to their
// budgets; fallback applies to unlisted classes.
func NewFixedWindow(store keystore.Store, prefix string, limits map[string]Limit, fallback Limit, logger *slog.Logger) *FixedWindow {
	return &FixedWindow{
		store:    store,
		prefix:   prefix,
		limits:   limits,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// LimitFor resolves the budget for an endpoint class.
func (fw *FixedWindow) LimitFor(endpoint string) Limit {
	if l, ok := fw.limits[endpoint]; ok {
		return l
	}
	return fw.fallback
}

// CheckAndRecord increments the counter for (endpoint, identity) and decides
// admission. When the keystore is unreachable the limiter fails open: the
// request is allowed and the fault logged at error severity. Availability of
// dispatch wins over strict quota enforcement during an outage.
func (fw *FixedWindow) CheckAndRecord(ctx context.Context, endpoint, identity string) Result {
	limit := fw.LimitFor(endpoint)
	key := fmt.Sprintf("%s:%s:%s", fw.prefix, endpoint, identity)

	count, ttlLeft, err := fw.store.IncrWithTTL(ctx, key, limit.Decay)
	if err != nil {
		fw.logger.Error("rate limit backend unreachable, failing open",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Result{
			Allowed:   true,
			Limit:     limit.MaxAttempts,
			Remaining: limit.MaxAttempts,
			ResetAt:   fw.now().Add(limit.Decay),
		}
	}

	// The window expires when the counter does. Later requests in the same
	// window see a shrinking reset, not a fresh Decay from each call.
	if ttlLeft <= 0 || ttlLeft > limit.Decay {
		ttlLeft = limit.Decay
	}

	remaining := limit.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit.MaxAttempts),
		Limit:     limit.MaxAttempts,
		Remaining: remaining,
		ResetAt:   fw.now().Add(ttlLeft),
	}
}
