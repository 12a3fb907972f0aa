// Package modelclient bridges iris LLM providers to the engine's
// core.ModelClient port. Provider failures are classified into the typed
// ModelError taxonomy so the engine's retry policy can tell transient
// failures from fatal ones.
package modelclient

import (
	"context"

	iriscore "github.com/petal-labs/iris/core"

	"github.com/fable-labs/fableflow/core"
)

// irisClient wraps an iris Provider to implement core.ModelClient.
type irisClient struct {
	provider iriscore.Provider
}

// Complete sends a synchronous completion request via the iris provider.
func (c *irisClient) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	chatReq := c.toRequest(req)

	chatResp, err := c.provider.Chat(ctx, chatReq)
	if err != nil {
		return core.CompletionResponse{}, classify(err)
	}
	if chatResp == nil || chatResp.Output == "" {
		return core.CompletionResponse{}, core.NewModelError(
			core.ModelErrMalformedResponse, "provider returned an empty completion", nil)
	}

	return c.fromResponse(chatResp), nil
}

// toRequest converts a core.CompletionRequest to an iris ChatRequest.
// The system prompt leads, the accumulated conversation follows, and the
// triggering input closes as the final user turn.
func (c *irisClient) toRequest(req core.CompletionRequest) *iriscore.ChatRequest {
	messages := make([]iriscore.Message, 0, len(req.Conversation)+2)

	if req.System != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Conversation {
		messages = append(messages, iriscore.Message{
			Role:    toIrisRole(m.Role),
			Content: m.Content,
		})
	}

	if req.Input != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleUser,
			Content: req.Input,
		})
	}

	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Options.Model),
		Messages: messages,
	}

	if req.Options.Temperature != nil {
		temp := float32(*req.Options.Temperature)
		chatReq.Temperature = &temp
	}
	if req.Options.MaxTokens != nil {
		chatReq.MaxTokens = req.Options.MaxTokens
	}

	return chatReq
}

// fromResponse converts an iris ChatResponse to a core.CompletionResponse.
func (c *irisClient) fromResponse(resp *iriscore.ChatResponse) core.CompletionResponse {
	return core.CompletionResponse{
		Text:     resp.Output,
		Model:    string(resp.Model),
		Provider: c.provider.ID(),
		Usage: core.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

// toIrisRole converts an engine role to an iris Role constant.
func toIrisRole(role core.Role) iriscore.Role {
	switch role {
	case core.RoleSystem:
		return iriscore.RoleSystem
	case core.RoleAI:
		return iriscore.RoleAssistant
	case core.RolePlayer:
		return iriscore.RoleUser
	default:
		return iriscore.RoleUser
	}
}

// Compile-time interface check.
var _ core.ModelClient = (*irisClient)(nil)
