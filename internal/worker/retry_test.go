package worker

import (
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      1 * time.Minute,
		BackoffFactor: 2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 1 * time.Minute}, // clamped
		{10, 1 * time.Minute},
	}
	for _, tt := range tests {
		if got := policy.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyZeroValues(t *testing.T) {
	var policy RetryPolicy

	if got := policy.NextDelay(0); got <= 0 {
		t.Errorf("NextDelay(0) = %v, want positive", got)
	}
	if got := policy.NextDelay(1); got != time.Second {
		t.Errorf("NextDelay(1) = %v, want 1s default", got)
	}
}
