// Package session manages admin sessions: opaque tokens stored in the
// keystore with a sliding TTL, optionally pinned to the origin IP.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sendgate/sendgate/internal/keystore"
)

// DefaultTTL is the sliding session lifetime.
const DefaultTTL = 8 * time.Hour

var (
	// ErrBadCredentials covers unknown emails and wrong passwords alike.
	ErrBadCredentials = errors.New("session: invalid email or password")

	// ErrNotAdmin is returned when the credentials are valid but the user
	// lacks admin privileges.
	ErrNotAdmin = errors.New("session: user does not have admin privileges")

	// ErrInvalidSession covers absent, expired, and malformed sessions.
	ErrInvalidSession = errors.New("session: invalid or expired session")

	// ErrIPMismatch is returned when IP pinning is on and the request IP
	// differs from the session's origin IP.
	ErrIPMismatch = errors.New("session: request ip does not match session ip")
)

// User is an operator account resolved from configuration.
type User struct {
	Email        string
	PasswordHash string // hex sha256 of the password
	IsAdmin      bool
}

// Record is the stored session state. The token itself is the key, never
// part of the value.
type Record struct {
	Email        string            `json:"email"`
	IP           string            `json:"ip"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Permissions  map[string]bool   `json:"permissions,omitempty"`
}

// Manager creates, validates, refreshes, and destroys admin sessions.
type Manager struct {
	store     keystore.Store
	users     map[string]User
	prefix    string
	ttl       time.Duration
	pinIP     bool
	logger    *slog.Logger
	now       func() time.Time
}

// Options configures a Manager.
type Options struct {
	Users     []User
	KeyPrefix string
	TTL       time.Duration
	PinIP     bool
}

// NewManager builds a Manager over the given store.
func NewManager(store keystore.Store, opts Options, logger *slog.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	users := make(map[string]User, len(opts.Users))
	for _, u := range opts.Users {
		users[u.Email] = u
	}
	return &Manager{
		store:  store,
		users:  users,
		prefix: opts.KeyPrefix,
		ttl:    opts.TTL,
		pinIP:  opts.PinIP,
		logger: logger,
		now:    time.Now,
	}
}

// HashPassword returns the hex sha256 used in the admin user config.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) key(token string) string {
	return m.prefix + ":session:" + token
}

// Login validates the credentials and mints a session pinned to ip.
// Valid credentials without admin privileges are refused.
func (m *Manager) Login(ctx context.Context, email, password, ip string) (string, error) {
	u, ok := m.users[email]
	// Compare against a constant dummy when the user is unknown so lookup
	// misses and password mismatches take the same path.
	hash := HashPassword(password)
	want := u.PasswordHash
	if !ok {
		want = HashPassword("")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(want)) != 1 || !ok {
		return "", ErrBadCredentials
	}
	if !u.IsAdmin {
		return "", ErrNotAdmin
	}

	token := uuid.NewString() + uuid.NewString()
	now := m.now()
	rec := Record{
		Email:        u.Email,
		IP:           ip,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.write(ctx, token, &rec); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	m.logger.Info("admin session created",
		slog.String("email", u.Email),
		slog.String("ip", ip),
	)
	return token, nil
}

// Authenticate looks up the session, enforces IP pinning, and slides the
// expiration window. Concurrent refreshes are last-writer-wins; both writers
// intend to extend the same TTL.
func (m *Manager) Authenticate(ctx context.Context, tok, ip string) (*Record, error) {
	raw, err := m.store.Get(ctx, m.key(tok))
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, ErrInvalidSession
	}

	if m.pinIP && rec.IP != ip {
		m.logger.Warn("session ip mismatch",
			slog.String("email", rec.Email),
			slog.String("session_ip", rec.IP),
			slog.String("request_ip", ip),
			slog.String("token_prefix", truncate(tok, 8)),
		)
		return nil, ErrIPMismatch
	}

	rec.LastActivity = m.now()
	if err := m.write(ctx, tok, &rec); err != nil {
		// The refresh failing does not invalidate an otherwise good
		// session; the old TTL still applies.
		m.logger.Error("session refresh failed", slog.String("error", err.Error()))
	}
	return &rec, nil
}

// Logout deletes the session immediately.
func (m *Manager) Logout(ctx context.Context, tok string) error {
	if err := m.store.Delete(ctx, m.key(tok)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	m.logger.Info("admin session destroyed", slog.String("token_prefix", truncate(tok, 8)))
	return nil
}

func (m *Manager) write(ctx context.Context, tok string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, m.key(tok), string(raw), m.ttl)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
