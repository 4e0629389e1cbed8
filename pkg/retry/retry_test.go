package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "scratcharchive/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		Initial:    100 * time.Millisecond,
		Max:        1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
		{6, 1 * time.Second, "Sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("Expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestConstantBackoff(t *testing.T) {
	backoff := &ConstantBackoff{Delay: 50 * time.Millisecond}
	for attempt := 1; attempt <= 3; attempt++ {
		if delay := backoff.NextDelay(attempt); delay != 50*time.Millisecond {
			t.Errorf("Expected constant delay, got %v on attempt %d", delay, attempt)
		}
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err != nil {
		t.Errorf("Expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err == nil {
		t.Error("Expected an error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errs.New(errs.ErrorTypeAuthMissing, "login required")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err == nil {
		t.Error("Expected the terminal error to surface")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	attempts := 0
	start := time.Now()
	op := func() error {
		attempts++
		if attempts == 1 {
			apiErr := errs.NewWithCode(errs.ErrorTypeRateLimit, 429, "throttled")
			apiErr.RetryAfter = 150 * time.Millisecond
			return apiErr
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Expected the server's Retry-After to override the backoff, waited only %v", elapsed)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	op := func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("keep going")
	}

	cfg := &Config{
		MaxAttempts: 0, // unlimited
		Backoff:     &ConstantBackoff{Delay: 10 * time.Second},
		RetryIf:     func(err error) bool { return true },
		Context:     ctx,
	}

	err := Do(op, cfg)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation to end the unlimited retry loop, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("not yet")
		}
		return "payload", nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	result, err := DoWithResult(op, cfg)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if result != "payload" {
		t.Errorf("Expected result to survive the retry, got %q", result)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"network error", errs.New(errs.ErrorTypeNetwork, "timeout"), true},
		{"rate limit", errs.New(errs.ErrorTypeRateLimit, "throttled"), true},
		{"auth missing", errs.New(errs.ErrorTypeAuthMissing, "no session"), false},
		{"not found", errs.New(errs.ErrorTypeNotFound, "gone"), false},
		{"parsing", errs.New(errs.ErrorTypeParsing, "bad json"), false},
		{"untyped error", errors.New("mystery"), true},
		{"context canceled", context.Canceled, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := DefaultRetryIf(test.err); got != test.retryable {
				t.Errorf("Expected retryable=%v, got %v", test.retryable, got)
			}
		})
	}
}
