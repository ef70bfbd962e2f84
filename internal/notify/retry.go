package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// retryWithBackoff calls fn up to maxAttempts times with exponential backoff
// and jitter between attempts. ErrNoRecipient stops immediately.
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be > 0, got %d", maxAttempts)
	}
	var lastErr error

	for i := range maxAttempts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrNoRecipient) {
			return err
		}

		if i < maxAttempts-1 && baseDelay > 0 {
			jitter := time.Duration(rand.Int63n(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto rand
			delay := time.Duration(math.Pow(2, float64(i)))*baseDelay + jitter
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}
