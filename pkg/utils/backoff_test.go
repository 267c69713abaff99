package utils

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped at max
		{10, time.Second},
	}

	for _, tt := range tests {
		if delay := backoff.NextDelay(tt.attempt); delay != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, delay)
		}
	}
}

func TestExponentialBackoffDefaults(t *testing.T) {
	backoff := NewExponentialBackoff(time.Millisecond, 0, 0)
	if backoff.Multiplier != 2.0 {
		t.Errorf("expected default multiplier 2.0, got %f", backoff.Multiplier)
	}
	if backoff.MaxDelay != 30*time.Second {
		t.Errorf("expected default max delay 30s, got %v", backoff.MaxDelay)
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0)
	backoff.Jitter = NewRandSource(7)

	for attempt := 0; attempt < 5; attempt++ {
		base := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0).NextDelay(attempt)
		delay := backoff.NextDelay(attempt)
		if delay < base/2 || delay >= base*3/2 {
			t.Errorf("attempt %d: jittered delay %v outside [%v, %v)", attempt, delay, base/2, base*3/2)
		}
	}
}
