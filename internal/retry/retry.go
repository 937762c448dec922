package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"invoice-collector/internal/telemetry"
)

// Operation is a fallible unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier executes operations under a Policy.
type Retrier struct {
	policy Policy
	sleep  SleepFunc
	jitter func() float64
	logger *slog.Logger
}

// Option customises a Retrier.
type Option func(*Retrier)

// WithSleep replaces the context-aware timer sleep.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// WithJitter replaces the source of u in [0, 1) used by Delay.
func WithJitter(fn func() float64) Option {
	return func(r *Retrier) { r.jitter = fn }
}

// WithLogger sets the logger used for retry and give-up messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retrier) { r.logger = l }
}

// New validates p and builds a Retrier.
func New(p Policy, opts ...Option) (*Retrier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r := &Retrier{
		policy: p,
		sleep:  sleepContext,
		jitter: rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Policy returns the policy the retrier enforces.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Run invokes fn until it succeeds, fails fatally, or MaxAttempts is reached.
// The last error is returned unchanged.
func (r *Retrier) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	delay := r.policy.BaseDelay
	for attempt := 1; ; attempt++ {
		telemetry.RetryAttempts.WithLabelValues(name).Inc()
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if Classify(err) == Fatal {
			telemetry.RetryFatal.WithLabelValues(name).Inc()
			r.logger.Error("non-retryable error", "operation", name, "attempt", attempt, "error", err)
			return err
		}
		if attempt >= r.policy.MaxAttempts {
			telemetry.RetryExhausted.WithLabelValues(name).Inc()
			r.logger.Error("giving up after max attempts", "operation", name, "attempts", attempt, "error", err)
			return err
		}

		wait := Delay(delay, r.policy.MaxDelay, r.jitter())
		r.logger.Warn("retrying", "operation", name, "attempt", attempt, "max_attempts", r.policy.MaxAttempts, "delay", wait, "error", err)
		telemetry.RetryRetries.WithLabelValues(name).Inc()
		if serr := r.sleep(ctx, wait); serr != nil {
			return serr
		}
		// Past 2*MaxDelay every jittered wait clamps to MaxDelay anyway.
		if delay < 2*r.policy.MaxDelay {
			delay *= 2
		}
	}
}

// Do runs op under r. A result exposing a 429 or 5xx status is treated as a
// retryable failure before it is returned.
func Do[T any](ctx context.Context, r *Retrier, name string, op Operation[T]) (T, error) {
	var result T
	err := r.Run(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		if err := CheckStatus(v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Wrap returns op guarded by r, with the same signature.
func Wrap[T any](r *Retrier, name string, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, r, name, op)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
