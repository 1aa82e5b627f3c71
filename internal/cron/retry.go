package cron

import (
	"math"
	"time"
)

// RetryPolicy sets how soon a failed job runs again.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries every MinInterval, never backing off.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		InitialDelay: MinInterval,
		Multiplier:   1.0,
		MaxDelay:     DefaultInterval,
	}
}

// NextDelay returns the delay after the given number of consecutive
// failures (1-indexed): InitialDelay * Multiplier^(failures-1), capped at
// MaxDelay.
func (p *RetryPolicy) NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(failures-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
