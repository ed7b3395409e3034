package oracle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// #region config

// RetryConfig controls retry behaviour for oracle calls.
type RetryConfig struct {
	MaxAttempts       int           // total attempts, including the first
	AttemptTimeout    time.Duration // per-attempt deadline; 0 disables
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		AttemptTimeout:    20 * time.Second,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}
}

// #endregion config

// #region retrying

// Retrying decorates an Oracle with per-attempt timeouts and retries on
// transient errors. Fatal and unclassified errors return immediately.
type Retrying struct {
	next   Oracle
	config RetryConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next. logger may be nil.
func NewRetrying(next Oracle, config RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Retrying{next: next, config: config, logger: logger.Named("oracle"), sleep: sleepCtx}
}

// Invoke calls the wrapped oracle until it succeeds, fails permanently,
// runs out of attempts, or ctx is done.
func (r *Retrying) Invoke(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	backoff := r.config.BackoffBase
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		out, err := r.attempt(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == r.config.MaxAttempts {
			break
		}
		wait := jitter(backoff)
		r.logger.Warn("transient oracle error, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := r.sleep(ctx, wait); err != nil {
			return "", fmt.Errorf("oracle retry: %w", err)
		}
		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if r.config.MaxBackoff > 0 && backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
	return "", lastErr
}

func (r *Retrying) attempt(ctx context.Context, prompt string) (string, error) {
	if r.config.AttemptTimeout <= 0 {
		return r.next.Invoke(ctx, prompt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()
	return r.next.Invoke(attemptCtx, prompt)
}

// #endregion retrying

// #region helpers

// jitter spreads d by up to ±20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.2
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #endregion helpers
