package gateway

import "time"

// Backoff decides how long to wait before a reconnect attempt. attempt
// counts consecutive failed connections and starts at 1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ConstantBackoff waits the same duration before every attempt. It is the
// default, using Config.ReconnectDelay.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff doubles the delay after each failed attempt, capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
