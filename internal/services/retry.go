package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy builds a fresh backoff for one unit of work.
type RetryPolicy func() backoff.BackOff

func DefaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

// withRetry reruns op while it fails with ErrSerializationFailure. Any other
// error stops immediately and is returned unchanged.
func withRetry(ctx context.Context, policy RetryPolicy, method string, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, pkgerrors.ErrSerializationFailure) {
			slog.Warn("retrying after concurrent update", "method", method, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy(), ctx))
}
