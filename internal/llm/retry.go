package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/raphaelgruber/mindstream/internal/metrics"
)

// DefaultMaxAttempts is the total number of tries for one provider call.
const DefaultMaxAttempts = 3

// Backoff bounds. Variables so tests can shrink them.
var (
	retryInitialInterval = 250 * time.Millisecond
	retryMaxInterval     = 4 * time.Second
)

func newBackOff(ctx context.Context, attempts int) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// withRetry calls fn up to attempts times with exponential backoff.
// Fatal API errors and context cancellation stop immediately.
func withRetry[T any](ctx context.Context, attempts int, mc *metrics.Collector, what string, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		err = wrapFatalError(err)
		if errors.Is(err, ErrFatalAPI) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		mc.Incr(metrics.CountRetries)
		slog.Warn("retrying provider call", "op", what, "wait_ms", wait.Milliseconds(), "error", err)
	}
	return backoff.RetryNotifyWithData(op, newBackOff(ctx, attempts), notify)
}
