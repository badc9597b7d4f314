package execution

import (
	"context"
	"fmt"
	"time"

	"atlasbot/internal/exchange/coinbase/rest"

	"github.com/sirupsen/logrus"
)

// withRetry runs fn up to attempts times, doubling the wait from base.
// Rate limited responses wait four times longer. Only transient errors are
// retried.
func withRetry[T any](ctx context.Context, attempts int, base time.Duration, log *logrus.Entry, fn func() (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}

	var lastErr error
	backoff := base
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !rest.IsRetryable(err) {
			return zero, err
		}
		if i == attempts-1 {
			break
		}

		wait := min(backoff, base*30)
		if rest.IsRateLimited(err) {
			wait = min(backoff*4, base*30)
		}
		log.WithError(err).WithFields(logrus.Fields{"attempt": i + 1, "wait": wait.String()}).Warn("request failed, retrying")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return zero, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}
