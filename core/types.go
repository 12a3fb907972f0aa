// Package core provides the foundational types and interfaces for FableFlow
// narrative sessions.
//
// This package contains:
//   - Chat types: Role, Message
//   - The ModelClient port and its request/response structures
//   - ModelError, the typed failure taxonomy for model calls
//   - RetryPolicy for transient-failure handling
package core

import (
	"context"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem Role = "system"
	RolePlayer Role = "player"
	RoleAI     Role = "ai"
)

// String returns the string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// Message is a chat-style message sent to or received from the model backend.
type Message struct {
	Role    Role   // "system" | "player" | "ai"
	Content string // plain text
}

// CallOptions configures a single model invocation.
type CallOptions struct {
	// Model is the backend model identifier (e.g. "gpt-4o", "llama3").
	Model string

	// Temperature controls sampling randomness. Nil uses the provider default.
	Temperature *float64

	// MaxTokens limits the output length. Nil uses the provider default.
	MaxTokens *int

	// Timeout is the maximum time to wait for the model response.
	Timeout time.Duration
}

// CompletionRequest is the request structure for a model completion.
// It is transport-agnostic and works across providers.
type CompletionRequest struct {
	// System is the assembled system prompt.
	System string

	// Conversation is the accumulated conversation tail, oldest first.
	Conversation []Message

	// Input is the user-role turn that triggers the completion. When the
	// step has no player input this carries the placeholder turn.
	Input string

	// Options configures model selection and sampling.
	Options CallOptions
}

// CompletionResponse captures the output of a model call.
type CompletionResponse struct {
	// Text is the raw text output.
	Text string

	// Model is the model that generated the response.
	Model string

	// Provider is the provider ID that handled the request.
	Provider string

	// Usage tracks token consumption, when the provider reports it.
	Usage TokenUsage
}

// TokenUsage tracks token consumption for a model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add combines two TokenUsage values.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// ModelClient abstracts a single provider/model backend.
// Implementations adapt concrete LLM providers to this common port.
// The client performs no retries itself; callers apply RetryPolicy.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// RetryPolicy configures retry behavior for transient model failures.
type RetryPolicy struct {
	MaxAttempts int           // maximum number of attempts (1 = no retries)
	Backoff     time.Duration // base backoff duration; doubles per attempt
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Second,
	}
}
