package gateway

import (
	"testing"
	"time"
)

func TestExponentialBackoff_WithCap(t *testing.T) {
	b := ExponentialBackoff{Initial: 1 * time.Second, Max: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("attempt %d backoff = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponentialBackoff_RestartsPerAttemptCount(t *testing.T) {
	b := ExponentialBackoff{Initial: 1 * time.Second, Max: 30 * time.Second}

	b.Delay(3)
	if d := b.Delay(1); d != 1*time.Second {
		t.Errorf("attempt 1 after attempt 3 = %v, want 1s", d)
	}
}

func TestConstantBackoff(t *testing.T) {
	b := ConstantBackoff(2 * time.Second)
	for _, attempt := range []int{1, 2, 50} {
		if d := b.Delay(attempt); d != 2*time.Second {
			t.Errorf("attempt %d = %v, want 2s", attempt, d)
		}
	}
}
