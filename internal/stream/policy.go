package stream

import "time"

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 2 * time.Second
)

// RetryState tracks consecutive transport failures for one connection entry.
type RetryState struct {
	Attempts    int
	MaxAttempts int
	BaseDelay   time.Duration
}

// Decision is the outcome of a reconnect policy evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
	// WaitForVisible defers the retry until the page is foregrounded again.
	WaitForVisible bool
}

// ReconnectPolicy computes capped exponential delays. With MaxDelay equal to BaseDelay
// every retry waits the same fixed delay.
type ReconnectPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{BaseDelay: DefaultRetryDelay, MaxDelay: DefaultRetryDelay}
}

// Decide reports whether a connection that has failed attempts times in a row should be
// retried, and after how long.
func (p ReconnectPolicy) Decide(attempts, maxAttempts int, pageVisible bool) Decision {
	if attempts >= maxAttempts {
		return Decision{}
	}
	return Decision{
		Retry:          true,
		Delay:          p.delay(attempts),
		WaitForVisible: !pageVisible,
	}
}

func (p ReconnectPolicy) delay(attempts int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRetryDelay
	}
	ceiling := p.MaxDelay
	if ceiling < base {
		ceiling = base
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
