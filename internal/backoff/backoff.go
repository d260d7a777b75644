// Package backoff implements full-jitter exponential backoff for the
// transport's reconnect loop.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// randSource is a package-level, mutex-guarded random source, following the
// same pattern C360Studio's pkg/retry uses to make jittered delays safe to
// compute from multiple transports concurrently.
var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterFraction() float64 {
	randMu.Lock()
	defer randMu.Unlock()
	return 0.5 + randSource.Float64()*0.5 // uniform in [0.5, 1.0)
}

// Config tunes the backoff curve: delay = min(Cap, Base*2^n) * U(0.5, 1.0).
type Config struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int // 0 = unlimited
}

// Backoff tracks consecutive failures for one transport session and
// produces the next delay to wait before redialing.
type Backoff struct {
	cfg      Config
	failures int
}

func New(cfg Config) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = 500 * time.Millisecond
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 10 * time.Second
	}
	return &Backoff{cfg: cfg}
}

// maxExponent caps n so Base*2^n never overflows time.Duration before the
// min-with-Cap clamp is applied.
const maxExponent = 6

// Next returns the delay for the next reconnect attempt and records the
// attempt as a failure. exhausted is true once MaxAttempts is configured
// and has been reached.
func (b *Backoff) Next() (delay time.Duration, exhausted bool) {
	if b.cfg.MaxAttempts > 0 && b.failures >= b.cfg.MaxAttempts {
		return 0, true
	}
	n := b.failures
	if n > maxExponent {
		n = maxExponent
	}
	b.failures++

	raw := float64(b.cfg.Base) * float64(uint64(1)<<uint(n))
	capped := raw
	if capped > float64(b.cfg.Cap) {
		capped = float64(b.cfg.Cap)
	}
	delay = time.Duration(capped * jitterFraction())
	return delay, false
}

// Success resets the failure count after a fully successful reconnect.
func (b *Backoff) Success() {
	b.failures = 0
}

// Attempts reports the current consecutive-failure count, mainly for tests.
func (b *Backoff) Attempts() int {
	return b.failures
}
