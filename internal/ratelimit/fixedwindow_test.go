package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sendgate/sendgate/internal/auth"
	"github.com/sendgate/sendgate/internal/keystore"
	"github.com/sendgate/sendgate/internal/keystore/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter(store keystore.Store) *FixedWindow {
	return NewFixedWindow(store, "sendgate:rl", map[string]Limit{
		ClassSend:   {MaxAttempts: 2, Decay: time.Second},
		ClassHealth: {MaxAttempts: 1000, Decay: time.Minute},
	}, Limit{MaxAttempts: 60, Decay: time.Minute}, discardLogger())
}

func TestCheckAndRecordWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	fw := newTestLimiter(store)

	// maxAttempts=2: first two allowed, third denied.
	for i := 1; i <= 2; i++ {
		res := fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
		if res.Remaining != 2-i {
			t.Fatalf("request %d remaining = %d, want %d", i, res.Remaining, 2-i)
		}
	}

	res := fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	if res.Allowed {
		t.Fatal("third request inside window allowed, want denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", res.Remaining)
	}

	// One microsecond past window expiry the counter has reset.
	now = now.Add(time.Second + time.Microsecond)
	res = fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	if !res.Allowed {
		t.Fatal("request after window expiry denied, want allowed")
	}
	if res.Remaining != 1 {
		t.Fatalf("post-expiry remaining = %d, want 1", res.Remaining)
	}
}

func TestResetAtTracksWindowExpiry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	fw := newTestLimiter(store)
	fw.now = func() time.Time { return now }

	first := fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	wantReset := now.Add(time.Second)
	if !first.ResetAt.Equal(wantReset) {
		t.Fatalf("first ResetAt = %v, want %v", first.ResetAt, wantReset)
	}

	// Halfway through the window the reset stays put instead of sliding a
	// full Decay forward with each request.
	now = now.Add(500 * time.Millisecond)
	second := fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	if !second.ResetAt.Equal(wantReset) {
		t.Fatalf("second ResetAt = %v, want unchanged %v", second.ResetAt, wantReset)
	}
}

func TestDenialStillIncrements(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	fw := newTestLimiter(store)

	for i := 0; i < 5; i++ {
		fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	}

	// Counter holds all five increments: denials did not roll back or
	// double-count.
	v, err := store.Get(ctx, "sendgate:rl:send:ip:203.0.113.5")
	if err != nil {
		t.Fatalf("Get counter: %v", err)
	}
	if v != "5" {
		t.Fatalf("counter = %s, want 5", v)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	fw := newTestLimiter(memory.New())

	fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5")
	if res := fw.CheckAndRecord(ctx, ClassSend, "ip:203.0.113.5"); res.Allowed {
		t.Fatal("first identity not exhausted")
	}

	if res := fw.CheckAndRecord(ctx, ClassSend, "ip:198.51.100.9"); !res.Allowed {
		t.Fatal("second identity denied by first identity's counter")
	}
}

func TestClassFallback(t *testing.T) {
	fw := newTestLimiter(memory.New())

	if l := fw.LimitFor(ClassSend); l.MaxAttempts != 2 {
		t.Fatalf("LimitFor(send) = %+v", l)
	}
	if l := fw.LimitFor("unlisted"); l.MaxAttempts != 60 {
		t.Fatalf("LimitFor(unlisted) = %+v, want fallback", l)
	}
}

// failingStore simulates an unreachable backend.
type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}
func (failingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("connection refused")
}
func (failingStore) Delete(ctx context.Context, key string) error {
	return errors.New("connection refused")
}
func (failingStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

// Fail-open is deliberate policy: an unreachable backend admits the request
// rather than blocking dispatch.
func TestBackendFailureFailsOpen(t *testing.T) {
	fw := newTestLimiter(failingStore{})

	for i := 0; i < 10; i++ {
		res := fw.CheckAndRecord(context.Background(), ClassSend, "ip:203.0.113.5")
		if !res.Allowed {
			t.Fatal("limiter failed closed on backend error")
		}
	}
}

func TestStageDenialCarriesUsage(t *testing.T) {
	store := memory.New()
	stage := &Stage{Limiter: newTestLimiter(store), Class: ClassSend}

	r := httptest.NewRequest("POST", "/v1/send/sms", nil)
	r.RemoteAddr = "203.0.113.5:9921"

	for i := 0; i < 2; i++ {
		admitted, rj := stage.Admit(r)
		if rj != nil {
			t.Fatalf("request %d rejected: %+v", i+1, rj)
		}
		if ResultFromContext(admitted.Context()) == nil {
			t.Fatal("admitted request missing limiter result in context")
		}
	}

	_, rj := stage.Admit(r)
	if rj == nil || rj.RateLimit == nil {
		t.Fatalf("third request rejection = %+v, want rate limit info", rj)
	}
	if rj.Status != 429 || rj.RateLimit.Remaining != 0 {
		t.Fatalf("rejection = %+v", rj)
	}
}

func TestStageFillsHolder(t *testing.T) {
	stage := &Stage{
		Limiter:  newTestLimiter(memory.New()),
		Advisory: NewAdvisory(60, 1000),
		Class:    ClassSend,
	}

	r := httptest.NewRequest("POST", "/v1/send/sms", nil)
	r.RemoteAddr = "203.0.113.5:9921"
	r = r.WithContext(WithHolder(r.Context()))
	holder := HolderFromContext(r.Context())

	if _, rj := stage.Admit(r); rj != nil {
		t.Fatalf("Admit() rejected: %+v", rj)
	}
	if holder.Result == nil {
		t.Fatal("holder missing limiter result")
	}
	if holder.Advisory == nil {
		t.Fatal("holder missing advisory snapshot")
	}
	if holder.Advisory.Minute.Used < 1 || holder.Advisory.Minute.Limit != 60 {
		t.Fatalf("advisory snapshot = %+v", holder.Advisory)
	}
}

func TestResolveIdentityTiers(t *testing.T) {
	projectKey := "sg_live_0123456789abcdefghijKLMNOPqrstuv"
	legacySecret := "deployment-secret"

	authenticate := func(secret string) *http.Request {
		t.Helper()
		stage := auth.NewAPIAuthenticator(secret, nil, discardLogger())
		r := httptest.NewRequest("POST", "/v1/send/sms", nil)
		r.RemoteAddr = "203.0.113.5:9921"
		r.Header.Set("Authorization", "Bearer "+secret)
		admitted, rj := stage.Admit(r)
		if rj != nil {
			t.Fatalf("Admit() rejected: %+v", rj)
		}
		return admitted
	}

	// A project-format key gets its own hashed tenant bucket.
	id := ResolveIdentity(authenticate(projectKey))
	if id != "key:"+auth.HashIdentity(projectKey) {
		t.Fatalf("project key identity = %q", id)
	}

	// A legacy shared secret is not a tenant: callers bucket by address.
	id = ResolveIdentity(authenticate(legacySecret))
	if id != "ip:203.0.113.5" {
		t.Fatalf("legacy secret identity = %q, want source address", id)
	}
}

func TestAdvisorySnapshot(t *testing.T) {
	a := NewAdvisory(60, 1000)

	var snap Snapshot
	for i := 0; i < 3; i++ {
		snap = a.Record("key:abc")
	}

	if snap.Minute.Limit != 60 || snap.Hour.Limit != 1000 {
		t.Fatalf("snapshot limits = %+v", snap)
	}
	if snap.Minute.Used < 3 {
		t.Fatalf("minute used = %d, want >= 3", snap.Minute.Used)
	}
	if snap.Hour.Used < 3 {
		t.Fatalf("hour used = %d, want >= 3", snap.Hour.Used)
	}
}
