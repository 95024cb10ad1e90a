package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/projectpulse/internal/metrics"
	"github.com/projectpulse/internal/store"
)

// RetryPolicy bounds retries of transient persistence errors. The delay
// before attempt n is BaseBackoff*2^(n-1), capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 4
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

func (e *Engine) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.retry.backoff(attempt)
			e.logger.Warn("Retrying persistence operation",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			metrics.IncrementPersistenceRetry(op)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %v (last error: %v)", store.ErrPersistenceTimeout, ctx.Err(), lastErr)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !store.IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", e.retry.MaxAttempts, lastErr)
}
