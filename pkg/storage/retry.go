package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// retryPolicy bounds the retries of transient blob-store failures. A write
// that exhausts the policy escalates to a fatal IOError.
type retryPolicy struct {
	initialInterval time.Duration
	maxRetries      uint64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{initialInterval: 50 * time.Millisecond, maxRetries: 5}
}

// withRetry runs op with bounded exponential backoff. NotFound errors are
// permanent and returned immediately.
func withRetry(ctx context.Context, log logr.Logger, policy retryPolicy, name string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.initialInterval

	attempt := 0
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsNotFoundError(err) {
			return backoff.Permanent(err)
		}
		attempt++
		log.V(1).Info("retrying storage operation", "op", name, "attempt", attempt, "error", err.Error())
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, policy.maxRetries), ctx))

	if err != nil && !IsNotFoundError(err) {
		return NewIOError(name, err)
	}
	return err
}
