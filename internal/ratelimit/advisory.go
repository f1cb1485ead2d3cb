package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Usage is one window of advisory usage.
type Usage struct {
	Limit int `json:"limit"`
	Used  int `json:"used"`
}

// Snapshot is the advisory usage view returned per identity. It feeds
// response headers only; enforcement belongs to the fixed-window counter.
type Snapshot struct {
	Minute Usage `json:"minute"`
	Hour   Usage `json:"hour"`
}

// Advisory tracks minute- and hour-level usage per identity in process.
// Stale identities are dropped opportunistically on Record.
type Advisory struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	entries   map[string]*advisoryEntry
	lastSweep time.Time
	now       func() time.Time
}

type advisoryEntry struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

// NewAdvisory builds the tracker with the given per-minute and per-hour
// ceilings.
func NewAdvisory(perMinute, perHour int) *Advisory {
	return &Advisory{
		perMinute: perMinute,
		perHour:   perHour,
		entries:   make(map[string]*advisoryEntry),
		now:       time.Now,
	}
}

// Record notes one request for identity and returns the usage snapshot.
func (a *Advisory) Record(identity string) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.sweep(now)

	e, ok := a.entries[identity]
	if !ok {
		e = &advisoryEntry{
			minute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(a.perMinute)), a.perMinute),
			hour:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(a.perHour)), a.perHour),
		}
		a.entries[identity] = e
	}
	e.lastSeen = now
	e.minute.AllowN(now, 1)
	e.hour.AllowN(now, 1)

	return Snapshot{
		Minute: Usage{Limit: a.perMinute, Used: a.perMinute - int(e.minute.TokensAt(now))},
		Hour:   Usage{Limit: a.perHour, Used: a.perHour - int(e.hour.TokensAt(now))},
	}
}

// sweep drops identities idle for over an hour. Runs at most once a minute.
func (a *Advisory) sweep(now time.Time) {
	if now.Sub(a.lastSweep) < time.Minute {
		return
	}
	a.lastSweep = now
	for id, e := range a.entries {
		if now.Sub(e.lastSeen) > time.Hour {
			delete(a.entries, id)
		}
	}
}
