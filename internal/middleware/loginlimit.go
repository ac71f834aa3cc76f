package middleware

import (
	"sync"
	"time"
)

const (
	loginMaxAttempts    = 5
	loginWindowDuration = time.Minute
	loginCleanupPeriod  = 5 * time.Minute
)

type loginAttempt struct {
	count       int
	windowStart time.Time
}

// LoginRateLimiter counts failed admin logins per client address in a fixed
// window.
type LoginRateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*loginAttempt
	lastCleanup time.Time
	now         func() time.Time
}

func NewLoginRateLimiter() *LoginRateLimiter {
	return &LoginRateLimiter{
		attempts:    make(map[string]*loginAttempt),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *LoginRateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < loginCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, attempt := range l.attempts {
		if now.Sub(attempt.windowStart) > loginWindowDuration {
			delete(l.attempts, ip)
		}
	}
}

// Blocked reports whether ip has used up its failures for the current window.
func (l *LoginRateLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	attempt, exists := l.attempts[ip]
	if !exists {
		return false
	}
	if now.Sub(attempt.windowStart) > loginWindowDuration {
		delete(l.attempts, ip)
		return false
	}
	return attempt.count >= loginMaxAttempts
}

// Fail records one failed attempt for ip.
func (l *LoginRateLimiter) Fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	attempt, exists := l.attempts[ip]
	if !exists || now.Sub(attempt.windowStart) > loginWindowDuration {
		l.attempts[ip] = &loginAttempt{count: 1, windowStart: now}
		return
	}
	attempt.count++
}
