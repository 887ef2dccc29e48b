// Package resilience guards the trust core's two hardware-adjacent
// collaborator boundaries — the crypto capability provider and the
// persistence substrate — where a misbehaving chip or flash filesystem is
// expected on a constrained node, rather than a bug to fix.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
)

// RetryPolicy retries an operation with exponential backoff and jitter.
type RetryPolicy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultRetryPolicy suits a single local I/O boundary: few attempts, short
// waits, since a flash write or hardware call that keeps failing past a
// handful of tries is not going to recover on its own.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:  3,
		InitialWait: 20 * time.Millisecond,
		MaxWait:     500 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.3,
	}
}

// Retry runs operation, retrying on error up to MaxRetries with backoff
// between attempts. Context cancellation aborts immediately.
func (r *RetryPolicy) Retry(ctx context.Context, logger log.Logger, operation func() error) error {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}

	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return errors.Canceledf("retry canceled: %v", ctx.Err())
		default:
		}

		if err := operation(); err == nil {
			if attempt > 0 {
				logger.WithField("attempt", attempt+1).Info("operation succeeded after retries")
			}
			return nil
		} else {
			lastErr = err
		}

		if attempt >= r.MaxRetries {
			break
		}

		wait := r.calculateBackoff(attempt)
		logger.WithError(lastErr).WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"wait":    wait.String(),
		}).Warn("operation failed, retrying")

		select {
		case <-ctx.Done():
			return errors.Canceledf("retry canceled while waiting: %v", ctx.Err())
		case <-time.After(wait):
		}
	}

	return errors.Wrapf(lastErr, "exhausted %d attempts", r.MaxRetries+1)
}

func (r *RetryPolicy) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.InitialWait) * math.Pow(r.Multiplier, float64(attempt))
	if backoff > float64(r.MaxWait) {
		backoff = float64(r.MaxWait)
	}
	if r.Jitter > 0 {
		jitterRange := backoff * r.Jitter
		backoff += (rand.Float64() * 2 * jitterRange) - jitterRange
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
