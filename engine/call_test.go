package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fable-labs/fableflow/core"
)

// seqClient replies with the scripted results in order, then repeats the
// last one.
type seqClient struct {
	mu      sync.Mutex
	results []func() (core.CompletionResponse, error)
	calls   int
}

func (c *seqClient) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	fn := c.results[i]
	c.mu.Unlock()
	return fn()
}

func (c *seqClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func reply(text string) func() (core.CompletionResponse, error) {
	return func() (core.CompletionResponse, error) {
		return core.CompletionResponse{Text: text, Model: "stub"}, nil
	}
}

func fail(kind core.ModelErrorKind) func() (core.CompletionResponse, error) {
	return func() (core.CompletionResponse, error) {
		return core.CompletionResponse{}, core.NewModelError(kind, "stub failure", nil)
	}
}

func testPolicy() core.RetryPolicy {
	return core.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
}

func TestCompleteWithRetryRecoversFromTransient(t *testing.T) {
	client := &seqClient{results: []func() (core.CompletionResponse, error){
		fail(core.ModelErrRateLimited),
		fail(core.ModelErrRateLimited),
		reply("finally"),
	}}

	resp, err := completeWithRetry(context.Background(), client, core.CompletionRequest{}, testPolicy(), slog.Default())
	if err != nil {
		t.Fatalf("completeWithRetry: %v", err)
	}
	if resp.Text != "finally" {
		t.Errorf("text = %q, want %q", resp.Text, "finally")
	}
	if got := client.callCount(); got != 3 {
		t.Errorf("call count = %d, want 3", got)
	}
}

func TestCompleteWithRetryExhaustsAttempts(t *testing.T) {
	client := &seqClient{results: []func() (core.CompletionResponse, error){
		fail(core.ModelErrTimeout),
	}}

	_, err := completeWithRetry(context.Background(), client, core.CompletionRequest{}, testPolicy(), slog.Default())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	var merr *core.ModelError
	if !errors.As(err, &merr) || merr.Kind != core.ModelErrTimeout {
		t.Errorf("got %v, want wrapped timeout ModelError", err)
	}
	if got := client.callCount(); got != 3 {
		t.Errorf("call count = %d, want 3", got)
	}
}

func TestCompleteWithRetryNonTransientFailsFast(t *testing.T) {
	client := &seqClient{results: []func() (core.CompletionResponse, error){
		fail(core.ModelErrUnauthorized),
	}}

	_, err := completeWithRetry(context.Background(), client, core.CompletionRequest{}, testPolicy(), slog.Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := client.callCount(); got != 1 {
		t.Errorf("call count = %d, want 1 (no retries for auth failures)", got)
	}
}

func TestCompleteWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &seqClient{results: []func() (core.CompletionResponse, error){reply("x")}}
	_, err := completeWithRetry(ctx, client, core.CompletionRequest{}, testPolicy(), slog.Default())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if got := client.callCount(); got != 0 {
		t.Errorf("call count = %d, want 0", got)
	}
}

func TestCompleteWithRetryPerAttemptTimeout(t *testing.T) {
	slow := &blockingClient{release: make(chan struct{})}
	defer close(slow.release)

	req := core.CompletionRequest{
		Options: core.CallOptions{Timeout: 5 * time.Millisecond},
	}
	policy := core.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}

	_, err := completeWithRetry(context.Background(), slow, req, policy, slog.Default())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var merr *core.ModelError
	if !errors.As(err, &merr) || merr.Kind != core.ModelErrTimeout {
		t.Errorf("got %v, want timeout ModelError", err)
	}
}

// blockingClient blocks until its context expires or release is closed.
type blockingClient struct {
	release chan struct{}
}

func (c *blockingClient) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	select {
	case <-ctx.Done():
		return core.CompletionResponse{}, ctx.Err()
	case <-c.release:
		return core.CompletionResponse{Text: "released"}, nil
	}
}
