package runner

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/goliatone/go-errors"
)

const ErrCodeRetryAttemptFailed = "RUNNER_ATTEMPT_FAILED"

type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Handler runs a function with an explicit retry policy.
type Handler struct {
	logger        Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy
	retryIf       func(error) bool

	operation  string
	maxRetries int
	timeout    time.Duration
}

// NewHandler constructs a Handler. With no options it runs exactly once.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		errorHandler:  func(error) {},
		retryStrategy: NoDelayStrategy{},
		operation:     "run",
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// MaxRetries returns the configured retry budget.
func (h *Handler) MaxRetries() int { return h.maxRetries }

// Run calls fn until it succeeds, the retry budget is spent, the error is
// not retryable or ctx ends. The last error is returned unchanged.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return err
		}

		err = h.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt == h.maxRetries || !h.shouldRetry(err) {
			return err
		}

		decision := DecideRetry(h.retryStrategy, attempt, err)
		if !decision.ShouldRetry {
			return err
		}

		h.errorHandler(apperrors.Wrap(err, apperrors.CategoryExternal,
			fmt.Sprintf("%s failed, attempt %d of %d", h.operation, attempt+1, h.maxRetries+1),
		).WithTextCode(ErrCodeRetryAttemptFailed).WithMetadata(map[string]any{
			"operation": h.operation,
			"attempt":   attempt + 1,
			"delay":     decision.Delay.String(),
		}))
		if h.logger != nil {
			h.logger.Warn("%s attempt %d failed, retrying in %s: %v", h.operation, attempt+1, decision.Delay, err)
		}

		if err := sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
	return err
}

func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) error {
	if h.timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (h *Handler) shouldRetry(err error) bool {
	if h.retryIf == nil {
		return true
	}
	return h.retryIf(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn through h and returns its result.
func Do[R any](ctx context.Context, h *Handler, fn func(context.Context) (R, error)) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
