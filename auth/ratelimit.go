package auth

import (
	"sync"
	"time"

	"lair-chat/server/errs"
)

// RateLimitConfig matches spec.md §4.4's named defaults.
type RateLimitConfig struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// DefaultRateLimitConfig is spec.md §4.4's literal defaults.
var DefaultRateLimitConfig = RateLimitConfig{
	MaxAttempts:     5,
	Window:          300 * time.Second,
	LockoutDuration: 900 * time.Second,
}

// bucket is spec.md §3's RateLimitBucket entity.
type bucket struct {
	attempts    int
	windowStart time.Time
	lockoutUntil time.Time
}

// rateLimiter is a per-username login attempt tracker. It is intentionally
// a small hand-rolled lockout state machine rather than
// golang.org/x/time/rate: spec.md §4.4 calls for a hard lockout window with
// attempts/window/lockout states, which a token bucket does not model (see
// DESIGN.md).
type rateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	buckets map[string]*bucket
	now     func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// checkAndRecordFailure is called after a failed login attempt. It returns
// an error if the username is (now, or already) locked out.
func (rl *rateLimiter) checkAndRecordFailure(username string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.bucketFor(username, now)

	if !b.lockoutUntil.IsZero() && now.Before(b.lockoutUntil) {
		return errs.New(errs.RateLimitExceeded, "account temporarily locked due to repeated failed logins")
	}

	b.attempts++
	if b.attempts >= rl.cfg.MaxAttempts {
		b.lockoutUntil = now.Add(rl.cfg.LockoutDuration)
		return errs.New(errs.RateLimitExceeded, "too many failed login attempts")
	}
	return nil
}

// checkLocked returns an error without recording an attempt — used before
// even checking credentials, so a locked-out username fails fast.
func (rl *rateLimiter) checkLocked(username string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.bucketFor(username, now)
	if !b.lockoutUntil.IsZero() && now.Before(b.lockoutUntil) {
		return errs.New(errs.RateLimitExceeded, "account temporarily locked due to repeated failed logins")
	}
	return nil
}

// reset clears a username's bucket entirely, called on successful login.
func (rl *rateLimiter) reset(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, username)
}

// bucketFor returns (creating lazily if needed) the bucket for username,
// rolling it over to a fresh window if the previous window has expired.
// Must be called with rl.mu held.
func (rl *rateLimiter) bucketFor(username string, now time.Time) *bucket {
	b, ok := rl.buckets[username]
	if !ok {
		b = &bucket{windowStart: now}
		rl.buckets[username] = b
		return b
	}
	// Lockout takes precedence over window rollover: only roll the window
	// once the lockout itself has cleared.
	if !b.lockoutUntil.IsZero() && now.Before(b.lockoutUntil) {
		return b
	}
	if now.Sub(b.windowStart) > rl.cfg.Window {
		b.attempts = 0
		b.windowStart = now
		b.lockoutUntil = time.Time{}
	}
	return b
}
