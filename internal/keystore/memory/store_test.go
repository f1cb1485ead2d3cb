package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sendgate/sendgate/internal/keystore"
)

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get() = %q, %v, want %q, nil", got, err, "v")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if err := s.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() inside TTL error = %v", err)
	}

	now = now.Add(time.Second + time.Microsecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("Get() past TTL error = %v, want ErrNotFound", err)
	}
}

func TestIncrWithTTL(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	for want := int64(1); want <= 3; want++ {
		n, _, err := s.IncrWithTTL(ctx, "counter", time.Second)
		if err != nil {
			t.Fatalf("IncrWithTTL() error = %v", err)
		}
		if n != want {
			t.Fatalf("IncrWithTTL() = %d, want %d", n, want)
		}
	}

	// TTL set on creation resets the counter when it elapses.
	now = now.Add(time.Second + time.Microsecond)
	n, _, err := s.IncrWithTTL(ctx, "counter", time.Second)
	if err != nil {
		t.Fatalf("IncrWithTTL() after expiry error = %v", err)
	}
	if n != 1 {
		t.Fatalf("IncrWithTTL() after expiry = %d, want 1", n)
	}
}

func TestIncrReportsRemainingTTL(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	_, remaining, err := s.IncrWithTTL(ctx, "counter", 2*time.Second)
	if err != nil {
		t.Fatalf("IncrWithTTL() error = %v", err)
	}
	if remaining != 2*time.Second {
		t.Fatalf("remaining on creation = %v, want 2s", remaining)
	}

	// Halfway through the window, remaining has shrunk instead of renewing.
	now = now.Add(time.Second)
	_, remaining, err = s.IncrWithTTL(ctx, "counter", 2*time.Second)
	if err != nil {
		t.Fatalf("IncrWithTTL() error = %v", err)
	}
	if remaining != time.Second {
		t.Fatalf("remaining mid-window = %v, want 1s", remaining)
	}
}

func TestIncrKeepsOriginalWindow(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if _, _, err := s.IncrWithTTL(ctx, "counter", 2*time.Second); err != nil {
		t.Fatalf("IncrWithTTL() error = %v", err)
	}

	// A later increment must not extend the window.
	now = now.Add(time.Second)
	if _, _, err := s.IncrWithTTL(ctx, "counter", 2*time.Second); err != nil {
		t.Fatalf("IncrWithTTL() error = %v", err)
	}

	now = now.Add(time.Second + time.Microsecond)
	if _, err := s.Get(ctx, "counter"); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatal("counter window was extended by a second increment")
	}
}
