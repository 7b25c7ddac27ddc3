package services

import (
	"sync"
	"time"

	"github.com/lborres/gatekeep/core"
)

const pruneThreshold = 1024

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// LoginLimiter locks a client key (the remote IP) after too many failed
// logins inside a window. A nil *LoginLimiter never locks.
type LoginLimiter struct {
	config core.LimiterConfig
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptState
}

// NewLoginLimiter returns nil when config.MaxAttempts is not positive.
func NewLoginLimiter(config core.LimiterConfig) *LoginLimiter {
	if config.MaxAttempts <= 0 {
		return nil
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	if config.LockDuration <= 0 {
		config.LockDuration = 10 * time.Minute
	}
	return &LoginLimiter{
		config:   config,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Locked reports whether key is currently locked out.
func (l *LoginLimiter) Locked(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.attempts[key]
	return ok && l.now().Before(state.lockedUntil)
}

// Fail records a failed attempt for key.
func (l *LoginLimiter) Fail(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.attempts) >= pruneThreshold {
		l.pruneLocked(now)
	}

	// an expired lock starts a fresh count even inside the window
	state, ok := l.attempts[key]
	lockServed := ok && !state.lockedUntil.IsZero() && !now.Before(state.lockedUntil)
	if !ok || lockServed || now.Sub(state.firstAttempt) > l.config.Window {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}
	state.count++
	if state.count >= l.config.MaxAttempts {
		state.lockedUntil = now.Add(l.config.LockDuration)
	}
}

// Reset forgets every failure recorded for key.
func (l *LoginLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

func (l *LoginLimiter) pruneLocked(now time.Time) {
	for key, state := range l.attempts {
		if now.Sub(state.firstAttempt) > l.config.Window && !now.Before(state.lockedUntil) {
			delete(l.attempts, key)
		}
	}
}
