package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"warble/internal/logging"
)

// WithExponentialBackoff executes an operation and retries it on
// failure, doubling the delay between attempts. The wait is cut short
// when ctx is done.
func WithExponentialBackoff(ctx context.Context, operationName string, maxRetries int, baseDelay time.Duration, operation func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	var err error
	delay := baseDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			logging.Logger.Warnw("operation failed, retrying",
				"operation", operationName,
				"error", err,
				"delay", delay,
				"attempt", i+1,
				"max", maxRetries,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.WithMessage(ctx.Err(), operationName+" interrupted")
			}
			delay *= 2
		}
	}

	return errors.WithMessagef(err, "%s failed after %d retries", operationName, maxRetries)
}
