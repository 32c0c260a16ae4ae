package connection

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// LinearBackOff grows the reconnect delay by a fixed step per attempt:
// Floor, Floor+Step, Floor+2*Step, ... It implements backoff.BackOff.
//
// When MaxAttempts is positive, NextBackOff returns backoff.Stop once that
// many consecutive delays have been handed out without a Reset.
type LinearBackOff struct {
	Floor       time.Duration
	Step        time.Duration
	Max         time.Duration // 0 = unbounded
	MaxAttempts int           // 0 = unbounded

	current  time.Duration
	attempts int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff creates a policy starting at its floor.
func NewLinearBackOff(floor, step, max time.Duration, maxAttempts int) *LinearBackOff {
	b := &LinearBackOff{
		Floor:       floor,
		Step:        step,
		Max:         max,
		MaxAttempts: maxAttempts,
	}
	b.Reset()
	return b
}

// NextBackOff returns the delay before the next attempt and advances the policy.
func (b *LinearBackOff) NextBackOff() time.Duration {
	if b.MaxAttempts > 0 && b.attempts >= b.MaxAttempts {
		return backoff.Stop
	}
	b.attempts++

	delay := b.current
	b.current += b.Step
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	return delay
}

// Reset restores the floor delay and clears the attempt count.
func (b *LinearBackOff) Reset() {
	b.current = b.Floor
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	b.attempts = 0
}

// Current returns the delay NextBackOff would hand out next.
func (b *LinearBackOff) Current() time.Duration {
	return b.current
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *LinearBackOff) Attempts() int {
	return b.attempts
}
