package matrix

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls ConnectWithRetry.
type RetryPolicy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the un-jittered delay.
	Max time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Jitter is the symmetric fraction applied to each delay (0.1 = ±10%).
	Jitter float64
}

// DefaultRetryPolicy is used for zero fields of a configured policy.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    time.Second,
	Max:        30 * time.Second,
	MaxRetries: 3,
	Jitter:     0.1,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryPolicy.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Jitter <= 0 || p.Jitter >= 1 {
		p.Jitter = DefaultRetryPolicy.Jitter
	}
	return p
}

// BaseDelay returns min(Initial·2^attempt, Max) for a zero-based attempt.
func (p RetryPolicy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(2, float64(attempt))
	if d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Delay returns BaseDelay(attempt) scaled by a factor drawn uniformly from
// [1-Jitter, 1+Jitter]. rnd returns values in [0, 1).
func (p RetryPolicy) Delay(attempt int, rnd func() float64) time.Duration {
	base := p.BaseDelay(attempt)
	factor := 1 + p.Jitter*(2*rnd()-1)
	return time.Duration(float64(base) * factor)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// jitterSource is the default random source for Delay.
func jitterSource() float64 {
	return rand.Float64() //nolint:gosec // jitter does not need a CSPRNG
}
