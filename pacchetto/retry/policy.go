// Package retry is the one retry policy shared by every resource service.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/taldoflemis/campusdarpio/pacchetto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("campusdarpio/retry")

// ErrExhausted wraps the last error once the attempt budget is spent.
var ErrExhausted = errors.New("retry budget exhausted")

const (
	defaultInterval    = time.Second
	defaultAttempts    = 5
	defaultMultiplier  = 2
	defaultMaxInterval = 10 * time.Second
)

type Policy struct {
	// MaxAttempts counts the first call too. Zero means no limit.
	MaxAttempts     uint
	InitialInterval time.Duration
	// Multiplier grows the wait after each failure. Values <= 1 keep the wait fixed.
	Multiplier  float64
	MaxInterval time.Duration
	// Jitter is the backoff randomization factor, 0 keeps waits exact.
	Jitter    float64
	Retryable func(error) bool
}

// Legacy keeps retrying every failure each second until it succeeds or ctx ends.
// A rejected payload never surfaces under this policy.
func Legacy() Policy {
	return Policy{
		MaxAttempts:     0,
		InitialInterval: defaultInterval,
		Multiplier:      1,
		Retryable:       Always,
	}
}

// Bounded retries transient failures with exponential backoff and surfaces
// permanent ones immediately.
func Bounded() Policy {
	return Policy{
		MaxAttempts:     defaultAttempts,
		InitialInterval: defaultInterval,
		Multiplier:      defaultMultiplier,
		MaxInterval:     defaultMaxInterval,
		Jitter:          0.1,
		Retryable:       IsTransient,
	}
}

func FromSettings(s pacchetto.RetrySettings) Policy {
	if s.Mode == pacchetto.RetryModeLegacy {
		p := Legacy()
		if s.InitialIntervalInMilli > 0 {
			p.InitialInterval = time.Duration(s.InitialIntervalInMilli) * time.Millisecond
		}
		return p
	}

	p := Bounded()
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	if s.InitialIntervalInMilli > 0 {
		p.InitialInterval = time.Duration(s.InitialIntervalInMilli) * time.Millisecond
	}
	if s.Multiplier > 0 {
		p.Multiplier = s.Multiplier
	}
	if s.MaxIntervalInMilli > 0 {
		p.MaxInterval = time.Duration(s.MaxIntervalInMilli) * time.Millisecond
	}
	return p
}

func (p Policy) newBackOff() backoff.BackOff {
	interval := p.InitialInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	if p.Multiplier <= 1 && p.Jitter == 0 {
		return backoff.NewConstantBackOff(interval)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = max(p.Multiplier, 1)
	b.MaxInterval = p.MaxInterval
	if b.MaxInterval < interval {
		b.MaxInterval = max(interval, defaultMaxInterval)
	}
	return b
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsTransient(err)
	}
	return p.Retryable(err)
}

var attemptCounter metric.Int64Counter

func init() {
	var err error
	attemptCounter, err = meter.Int64Counter(
		"campusdarpio.retry.attempts",
		metric.WithDescription("Failed attempts that were scheduled for another try"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		slog.Error("failed to create retry attempt counter", slog.Any("err", err))
	}
}

// Do runs op under the policy. name labels logs and metrics. The loop ends on
// success, on a non-retryable error, when the budget is spent or when ctx is done.
func Do[T any](ctx context.Context, name string, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempt := uint(0)
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(err)
		}
		if !p.retryable(err) {
			return res, backoff.Permanent(err)
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return res, backoff.Permanent(fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err))
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		slog.WarnContext(ctx, "request failed, retrying",
			slog.String("operation", name),
			slog.Uint64("attempt", uint64(attempt)),
			slog.Duration("next-in", next),
			slog.Any("err", err),
		)
		if attemptCounter != nil {
			attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", name)))
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return res, fmt.Errorf("%s: %w: %w", name, ctxErr, err)
		}
		return res, err
	}
	return res, nil
}
