package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter throttles outbound calls per hostname.
type Limiter interface {
	// Allow reports whether a call to host may proceed right now.
	Allow(host string) bool
	// Wait blocks until the host's bucket has a token or ctx is done.
	Wait(ctx context.Context, host string) error
}

// bucket tracks remaining tokens for one hostname.
type bucket struct {
	tokens     int
	lastRefill time.Time
}

// HostLimiter is a token-bucket limiter keyed by hostname. Each host gets
// an independent bucket, so waiting on one host never delays another.
type HostLimiter struct {
	tokensPerInterval int
	interval          time.Duration
	mu                sync.Mutex
	buckets           map[string]*bucket
}

// NewHostLimiter creates a limiter that refills tokensPerInterval tokens
// per host every interval.
func NewHostLimiter(tokensPerInterval int, interval time.Duration) *HostLimiter {
	return &HostLimiter{
		tokensPerInterval: tokensPerInterval,
		interval:          interval,
		buckets:           make(map[string]*bucket),
	}
}

// Allow consumes a token for host if one is available.
func (l *HostLimiter) Allow(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(host)
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token for host becomes available.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	for {
		l.mu.Lock()
		b := l.refill(host)
		if b.tokens > 0 {
			b.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := b.lastRefill.Add(l.interval).Sub(time.Now())
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill resets the host's bucket when its interval has elapsed.
// Caller must hold l.mu.
func (l *HostLimiter) refill(host string) *bucket {
	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{tokens: l.tokensPerInterval, lastRefill: time.Now()}
		l.buckets[host] = b
		return b
	}
	if time.Since(b.lastRefill) >= l.interval {
		b.tokens = l.tokensPerInterval
		b.lastRefill = time.Now()
	}
	return b
}
