// Package session implements the in-memory session store: open, validate,
// close and the periodic idle sweep, plus snapshot support so a hot reload
// of the surrounding process keeps every session alive.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"warden/internal/platform/metrics"
)

// ErrInvalidSession is returned when a session identifier is unknown or the
// session failed re-validation. Callers treat it as "not authenticated" and
// fall through to re-authentication.
var ErrInvalidSession = errors.New("invalid session")

// Session is one authenticated (or anonymous) presence. Data carries
// arbitrary per-session key-value state.
type Session struct {
	ID         string            `json:"id"`
	Login      string            `json:"login"`
	Anonymous  bool              `json:"anonymous"`
	CreatedAt  time.Time         `json:"created_at"`
	LastAccess time.Time         `json:"last_access"`
	Data       map[string]string `json:"data,omitempty"`
}

// Checker re-validates a session's principal on each use. It fails when the
// principal no longer exists, has been deactivated, or its login no longer
// matches; the manager then closes the session.
type Checker func(ctx context.Context, login string) error

// Config carries the idle thresholds. Anonymous sessions expire on a
// shorter clock than authenticated ones.
type Config struct {
	SessionTTL   time.Duration
	AnonymousTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:   30 * time.Minute,
		AnonymousTTL: 2 * time.Minute,
	}
}

// Manager holds the session map. It is the one piece of shared mutable
// state in the process; every mutation takes the same mutex so a touch can
// never be lost to a concurrent sweep.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg     Config
	checker Checker
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithChecker installs principal re-validation for Get.
func WithChecker(c Checker) Option {
	return func(m *Manager) { m.checker = c }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a session for an already-authenticated login. The identifier
// is unguessable (256 bits from crypto/rand).
func (m *Manager) Open(_ context.Context, login string, anonymous bool) (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := m.now()
	s := &Session{
		ID:         id,
		Login:      login,
		Anonymous:  anonymous,
		CreatedAt:  now,
		LastAccess: now,
		Data:       make(map[string]string),
	}

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsOpened.Inc()
		m.metrics.SessionsActive.Set(float64(count))
	}
	return copySession(s), nil
}

// Get looks a session up, re-validates its principal and touches its
// last-access time. Unknown identifiers and failed re-validation both
// surface as ErrInvalidSession; a failed re-validation also closes the
// session so it cannot be retried into existence.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.LastAccess = m.now()
		s = copySession(s)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrInvalidSession
	}

	if m.checker != nil && !s.Anonymous {
		if err := m.checker(ctx, s.Login); err != nil {
			_ = m.Close(ctx, id)
			return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
		}
	}
	return s, nil
}

// List returns a copy of every open session, for the admin surface.
func (m *Manager) List(_ context.Context) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	return out
}

// SetData stores a key-value pair on an open session.
func (m *Manager) SetData(_ context.Context, id, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrInvalidSession
	}
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
	return nil
}

// Close removes the session. Closing an unknown session is not an error:
// logout must be idempotent.
func (m *Manager) Close(_ context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	if existed && m.metrics != nil {
		m.metrics.SessionsClosed.Inc()
		m.metrics.SessionsActive.Set(float64(count))
	}
	return nil
}

// Clean sweeps expired sessions and reports (closed, remaining). The sweep
// snapshots candidates first and re-checks each one's last-access under the
// lock before closing, so a session touched after the snapshot survives.
func (m *Manager) Clean(_ context.Context) (closed, remaining int) {
	now := m.now()

	m.mu.Lock()
	candidates := make([]string, 0)
	for id, s := range m.sessions {
		if now.Sub(s.LastAccess) > m.ttlFor(s) {
			candidates = append(candidates, id)
		}
	}
	m.mu.Unlock()

	for _, id := range candidates {
		m.mu.Lock()
		s, ok := m.sessions[id]
		if ok && now.Sub(s.LastAccess) > m.ttlFor(s) {
			delete(m.sessions, id)
			closed++
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	remaining = len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsSwept.Add(float64(closed))
		m.metrics.SessionsActive.Set(float64(remaining))
	}
	if closed > 0 {
		m.logger.Info("session sweep",
			slog.Int("closed", closed),
			slog.Int("remaining", remaining),
		)
	}
	return closed, remaining
}

func (m *Manager) ttlFor(s *Session) time.Duration {
	if s.Anonymous {
		return m.cfg.AnonymousTTL
	}
	return m.cfg.SessionTTL
}

func copySession(s *Session) *Session {
	cp := *s
	cp.Data = maps.Clone(s.Data)
	return &cp
}

func generateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
