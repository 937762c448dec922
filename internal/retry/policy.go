// Package retry wraps fallible operations with jittered exponential backoff.
//
// Errors are classified by message: rate limiting, server errors, timeouts and
// network failures are retried; anything else is returned after one attempt.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the collector defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

// Validate checks MaxAttempts >= 1, BaseDelay > 0 and MaxDelay >= BaseDelay.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d < 1", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay %s <= 0", ErrInvalidPolicy, p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("%w: max delay %s < base delay %s", ErrInvalidPolicy, p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay returns min(delay * (0.5 + u), max) for u in [0, 1).
func Delay(delay, max time.Duration, u float64) time.Duration {
	wait := time.Duration(float64(delay) * (0.5 + u))
	if wait > max || wait < 0 {
		return max
	}
	return wait
}
