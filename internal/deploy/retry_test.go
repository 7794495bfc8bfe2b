package deploy

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNextRetryDelay(t *testing.T) {
	t.Parallel()

	base := time.Second
	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{1, 800 * time.Millisecond, 1200 * time.Millisecond},  // 1s ± 20%
		{2, 1600 * time.Millisecond, 2400 * time.Millisecond}, // 2s ± 20%
		{3, 3200 * time.Millisecond, 4800 * time.Millisecond}, // 4s ± 20%
		{10, 24 * time.Second, 36 * time.Second},              // capped at 30s
		{0, 800 * time.Millisecond, 1200 * time.Millisecond},  // below 1 treated as 1
		{-3, 800 * time.Millisecond, 1200 * time.Millisecond}, // negative treated as 1
		{100, 24 * time.Second, 36 * time.Second},             // no overflow
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			t.Parallel()
			// Run multiple times to account for jitter
			for i := 0; i < 10; i++ {
				delay := NextRetryDelay(base, tt.attempt)
				if delay < tt.minDelay || delay > tt.maxDelay {
					t.Errorf("NextRetryDelay(%v, %d) = %v, want between %v and %v",
						base, tt.attempt, delay, tt.minDelay, tt.maxDelay)
				}
			}
		})
	}
}

func TestNextRetryDelay_DefaultBase(t *testing.T) {
	t.Parallel()

	delay := NextRetryDelay(0, 1)
	if delay < 400*time.Millisecond || delay > 600*time.Millisecond {
		t.Errorf("NextRetryDelay(0, 1) = %v, want default base ± 20%%", delay)
	}
}

func TestIsExhausted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt     int
		maxAttempts int
		want        bool
	}{
		{0, 3, false},
		{1, 3, false},
		{2, 3, false},
		{3, 3, true},
		{4, 3, true},
		{1, 1, true},
	}

	for _, tt := range tests {
		if got := IsExhausted(tt.attempt, tt.maxAttempts); got != tt.want {
			t.Errorf("IsExhausted(%d, %d) = %v, want %v", tt.attempt, tt.maxAttempts, got, tt.want)
		}
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusError) Retryable() bool { return e.code >= 500 || e.code == 429 }

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), true},
		{"server error", &statusError{code: 502}, true},
		{"too many requests", &statusError{code: 429}, true},
		{"client error", &statusError{code: 400}, false},
		{"wrapped client error", fmt.Errorf("publish: %w", &statusError{code: 404}), false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("%s: IsRetryable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
