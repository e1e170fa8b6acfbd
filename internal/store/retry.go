package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	retryMaxElapsed = 10 * time.Second
	retryInitial    = 50 * time.Millisecond
	retryMaxDelay   = time.Second
	retryMaxTries   = uint64(5)
)

// isRetryable reports serialization failures and deadlocks, the two
// outcomes Postgres expects callers to retry.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}

// withRetry runs op until it succeeds, fails with a non-retryable error, or
// the backoff budget runs out.
func withRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(retryMaxElapsed),
		backoff.WithInitialInterval(retryInitial),
		backoff.WithMaxInterval(retryMaxDelay),
	), retryMaxTries)

	err := backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil && lastErr != nil && errors.Is(err, lastErr) {
		return fmt.Errorf("retries exhausted: %w", err)
	}
	return err
}
