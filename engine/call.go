package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fable-labs/fableflow/core"
)

// completeWithRetry invokes the model client, retrying transient failures
// with exponential backoff up to the policy's attempt bound. Non-transient
// failures and context cancellation propagate immediately.
//
// The per-attempt timeout from the request options is applied here so that
// a slow attempt is classified as a transient timeout rather than killing
// the whole session context.
func completeWithRetry(
	ctx context.Context,
	client core.ModelClient,
	req core.CompletionRequest,
	policy core.RetryPolicy,
	logger *slog.Logger,
) (core.CompletionResponse, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return core.CompletionResponse{}, err
		}

		callCtx := ctx
		cancel := func() {}
		if req.Options.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, req.Options.Timeout)
		}

		resp, err := client.Complete(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}

		// Session-level cancellation is not a model failure.
		if ctx.Err() != nil {
			return core.CompletionResponse{}, ctx.Err()
		}

		// A blown per-attempt deadline is a transient timeout.
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.NewModelError(core.ModelErrTimeout, "model call timed out", err)
		}

		lastErr = err
		if !core.IsTransientModelError(err) {
			return core.CompletionResponse{}, err
		}

		if attempt < attempts {
			backoff := policy.Backoff << (attempt - 1)
			logger.Warn("transient model error, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return core.CompletionResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return core.CompletionResponse{}, fmt.Errorf("model call failed after %d attempts: %w", attempts, lastErr)
}
