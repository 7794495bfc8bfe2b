package deploy

import (
	"errors"
	"math/rand"
	"time"
)

const (
	// DefaultMaxAttempts is the default number of publish attempts per page.
	DefaultMaxAttempts = 3

	// DefaultRetryBase is the delay after the first failed attempt.
	DefaultRetryBase = 500 * time.Millisecond

	// MaxRetryDelay caps the exponential growth.
	MaxRetryDelay = 30 * time.Second

	// JitterFactor is the ±percentage of jitter applied to delays.
	JitterFactor = 0.2 // ±20%
)

// NextRetryDelay calculates the delay before the next publish attempt with
// exponential backoff + jitter. attempt is 1-indexed: after the first
// failed attempt, attempt = 1 and the delay is base ± 20%.
func NextRetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt && delay < MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}

	// Add ±20% jitter so workers publishing to the same site spread out
	jitterRange := float64(delay) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange // -20% to +20%

	return time.Duration(float64(delay) + jitter)
}

// IsExhausted returns true if max attempts have been reached.
func IsExhausted(attemptCount, maxAttempts int) bool {
	return attemptCount >= maxAttempts
}

// retryable is implemented by publisher errors that know whether a retry
// can help, e.g. a 4xx response cannot.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether a failed publish should be attempted again.
// Errors that do not say otherwise are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
