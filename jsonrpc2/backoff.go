package jsonrpc2

import (
	"math/rand"
	"time"
)

const (
	DefaultBackoffBase   = 100 * time.Millisecond
	DefaultBackoffMax    = 30 * time.Second
	DefaultBackoffJitter = 0.2
)

// Backoff is the reconnection delay policy: Base doubled per attempt up to
// Max, varied by +/- Jitter as a fraction of the delay. MaxAttempts of 0
// retries forever.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Jitter      float64

	attempt int
	// random returns a value in [0, 1), it is replaced in tests.
	random func() float64
}

// NewBackoff returns a Backoff with the default settings.
func NewBackoff() *Backoff {
	return &Backoff{
		Base:   DefaultBackoffBase,
		Max:    DefaultBackoffMax,
		Jitter: DefaultBackoffJitter,
	}
}

// Next advances to the next attempt and returns the delay before it. ok is
// false once MaxAttempts is exhausted.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return 0, false
	}
	b.attempt++
	return b.delay(b.attempt), true
}

func (b *Backoff) delay(attempt int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	d := max
	if shift := uint(attempt - 1); shift < 32 {
		if next := base << shift; next > 0 && next < max {
			d = next
		}
	}
	if b.Jitter > 0 {
		random := b.random
		if random == nil {
			random = rand.Float64
		}
		d += time.Duration(float64(d) * b.Jitter * (2*random() - 1))
	}
	return d
}

// Attempt is the number of attempts since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns to the initial delay. It is called after a successful
// handshake.
func (b *Backoff) Reset() {
	b.attempt = 0
}
