package auth

import (
	"sync"
	"time"
)

// LockoutConfig bounds repeated credential failures per login.
type LockoutConfig struct {
	AttemptsPerWindow int
	Window            time.Duration
	LockDuration      time.Duration
}

func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		AttemptsPerWindow: 5,
		Window:            15 * time.Minute,
		LockDuration:      15 * time.Minute,
	}
}

type lockoutRecord struct {
	failureCount  int
	lastFailureAt time.Time
	lockedUntil   time.Time
}

// Lockout tracks failed attempts per login and hard-locks a login once the
// window threshold is crossed. In-memory only: a restart clears the slate,
// which is acceptable for a throttle.
type Lockout struct {
	mu      sync.Mutex
	records map[string]*lockoutRecord
	cfg     LockoutConfig
	now     func() time.Time
}

func NewLockout(cfg LockoutConfig) *Lockout {
	return &Lockout{
		records: make(map[string]*lockoutRecord),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Locked reports whether the login is currently hard-locked.
func (l *Lockout) Locked(login string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[login]
	if !ok {
		return false
	}
	return l.now().Before(r.lockedUntil)
}

// RecordFailure counts one failed attempt, starting a hard lock when the
// window threshold is reached. Failures outside the window reset the count.
func (l *Lockout) RecordFailure(login string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	r, ok := l.records[login]
	if !ok || now.Sub(r.lastFailureAt) > l.cfg.Window {
		r = &lockoutRecord{}
		l.records[login] = r
	}
	r.failureCount++
	r.lastFailureAt = now
	if r.failureCount >= l.cfg.AttemptsPerWindow {
		r.lockedUntil = now.Add(l.cfg.LockDuration)
	}
}

// Clear forgets the login's failure history after a successful login.
func (l *Lockout) Clear(login string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, login)
}
