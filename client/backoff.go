package client

import (
	"math/rand"
	"time"
)

// BackoffConfig is the reconnection retry schedule (spec.md §4.5).
type BackoffConfig struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	JitterFrac float64
	MaxAttempts int
}

// DefaultBackoffConfig matches spec.md §4.5's literal defaults: base 500ms,
// factor 2, cap 30s, jitter +-20%, up to 5 attempts.
var DefaultBackoffConfig = BackoffConfig{
	Base:        500 * time.Millisecond,
	Factor:      2,
	Cap:         30 * time.Second,
	JitterFrac:  0.2,
	MaxAttempts: 5,
}

// delay returns the backoff duration for the given 1-indexed attempt
// number, applying exponential growth capped at Cap, then jittering by
// +-JitterFrac using src (pass rand.New(rand.NewSource(...)) in production,
// a deterministic source in tests).
func (c BackoffConfig) delay(attempt int, src *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.Base)
	for i := 1; i < attempt; i++ {
		d *= c.Factor
	}
	if ceiling := float64(c.Cap); d > ceiling {
		d = ceiling
	}

	jitter := 1 + (src.Float64()*2-1)*c.JitterFrac
	return time.Duration(d * jitter)
}
