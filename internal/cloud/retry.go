package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/gophercloud/gophercloud/v2"
)

// isRetryable determines if an error is transient and warrants a retry.
// It specifically checks for standard HTTP 429/5xx codes from Gophercloud
// and assumes other unknown network errors are also retryable.
func isRetryable(err error) bool {
	var gopherErrors gophercloud.ErrUnexpectedResponseCode

	if errors.As(err, &gopherErrors) {
		switch gopherErrors.Actual {
		case http.StatusTooManyRequests,
			http.StatusRequestTimeout,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

// ExecuteAction wraps a function with exponential backoff, jitter, and a
// context timeout. opName labels log lines and the final wrapped error.
func ExecuteAction(ctx context.Context, cfg RetryConfig, opName string, operation func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s timed out before attempt %d: %w", opName, attempt+1, ctx.Err())
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxRetries {
			break
		}

		slog.Warn("transient error detected, scheduling retry",
			"operation", opName,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"error", lastErr)

		backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		sleepDuration := min(time.Duration(backoff)+jitter, cfg.MaxDelay)

		select {
		case <-time.After(sleepDuration):
			continue
		case <-ctx.Done():
			return fmt.Errorf("%s context cancelled during backoff: %w", opName, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", opName, cfg.MaxRetries, lastErr)
}
