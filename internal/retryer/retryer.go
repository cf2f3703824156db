// Package retryer runs operations repeatedly until they succeed, fail with a
// permanent error or the maximum number of attempts is reached.
package retryer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
	"github.com/simplesurance/prsync/internal/prsyncerr"
)

const (
	DefaultMaxAttempts     = 10
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = time.Minute
)

// Retryer executes a function repeatedly until it was successful or a cancel
// condition happened.
// Only errors that wrap a prsyncerr.RetryableError are retried.
type Retryer struct {
	logger *zap.Logger

	maxAttempts                uint
	backoffInitialInterval     time.Duration
	backoffMaxInterval         time.Duration
	backoffRandomizationFactor float64
}

type Option func(*Retryer)

func WithMaxAttempts(n uint) Option {
	return func(r *Retryer) {
		r.maxAttempts = n
	}
}

func WithInitialInterval(d time.Duration) Option {
	return func(r *Retryer) {
		r.backoffInitialInterval = d
	}
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Retryer) {
		r.backoffMaxInterval = d
	}
}

func New(opts ...Option) *Retryer {
	r := Retryer{
		logger:                     zap.L().Named("retryer"),
		maxAttempts:                DefaultMaxAttempts,
		backoffInitialInterval:     DefaultInitialInterval,
		backoffMaxInterval:         DefaultMaxInterval,
		backoffRandomizationFactor: backoff.DefaultRandomizationFactor,
	}

	for _, opt := range opts {
		opt(&r)
	}

	if r.maxAttempts == 0 {
		r.maxAttempts = 1
	}

	return &r
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.MaxInterval = r.backoffMaxInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	// the number of attempts bounds the execution, not the elapsed time
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Run executes fn until it was successful, it returned an error that does
// not wrap prsyncerr.RetryableError, the execution was aborted via the
// context or fn failed maxAttempts times.
// When all attempts failed, an error wrapping prsyncerr.ErrRetriesExhausted
// and the last error of fn is returned.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	bo := r.newBackoff()
	logger := r.logger.With(logF...)

	for tryCnt := uint(1); ; tryCnt++ {
		logger := logger.With(zap.Uint("try_count", tryCnt))

		err := fn(ctx)
		if err == nil {
			if tryCnt > 1 {
				logger.Info(
					"operation succeeded after retries",
					logfields.Event("retry_succeeded"),
				)
			}

			return nil
		}

		logger = logger.With(zap.Error(err))

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Debug("operation cancelled", logfields.Event("retry_cancelled"))
			return err
		}

		var retryError *prsyncerr.RetryableError
		if !errors.As(err, &retryError) {
			logger.Debug("operation failed, not retryable", logfields.Event("retry_not_retryable"))
			return err
		}

		if tryCnt >= r.maxAttempts {
			logger.Warn(
				"giving up retrying operation, max attempts reached",
				logfields.Event("retry_exhausted"),
				zap.Uint("max_attempts", r.maxAttempts),
			)

			return fmt.Errorf("%w after %d attempts: %w", prsyncerr.ErrRetriesExhausted, tryCnt, err)
		}

		var retryIn time.Duration
		if retryError.After.IsZero() {
			retryIn = bo.NextBackOff()
		} else {
			retryIn = time.Until(retryError.After)
			if retryIn < r.backoffInitialInterval {
				retryIn = bo.NextBackOff()
			}
		}

		logger.Warn(
			"operation failed, retry scheduled",
			logfields.Event("retry_scheduled"),
			zap.Duration("retry_in", retryIn),
		)

		if err := sleep(ctx, retryIn); err != nil {
			logger.Info("retry cancelled", logfields.Event("retry_cancelled"))
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
