package retry

import (
	"math"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay before the given attempt (1-based).
	NextDelay(attempt int) time.Duration
}

// ConstantBackoff waits the same duration between every attempt.
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns the constant delay.
func (b *ConstantBackoff) NextDelay(int) time.Duration {
	return b.Delay
}

// ExponentialBackoff multiplies the delay after each attempt, capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NextDelay returns Initial * Multiplier^(attempt-1), capped at Max.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// DefaultExponentialBackoff returns the backoff used for upstream calls.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial:    10 * time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2.0,
	}
}
