package exchange

import (
	"context"
	"fmt"
	"time"

	"tradingcore/src/model"

	logger "github.com/sirupsen/logrus"
)

// DefaultFailedRequestRetryTime separates attempts after a connectivity
// failure.
const DefaultFailedRequestRetryTime = 2 * time.Second

// RetryTillSuccess calls fn until it succeeds or the timeout elapses.
// Connectivity errors are retried; anything else is returned immediately.
func RetryTillSuccess(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !model.IsConnectivityError(err) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("retry timeout after %d attempts: %w", attempt, err)
		}

		logger.WithFields(map[string]interface{}{
			"component": "exchange",
			"attempt":   attempt,
		}).WithError(err).Debug("Retrying after failed request")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(DefaultFailedRequestRetryTime):
		}
	}
}

// RetryNTime calls fn up to n times, backing off between attempts.
func RetryNTime(ctx context.Context, n int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= n; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !model.IsConnectivityError(err) {
			return err
		}
		if attempt == n {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(DefaultFailedRequestRetryTime):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", n, err)
}
