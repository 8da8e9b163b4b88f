// Package llm holds what the model providers share.
package llm

import (
	"context"
	"errors"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/shared/telemetry"
)

// ErrNotImplemented is returned by the placeholder provider.
var ErrNotImplemented = errors.New("LLM not implemented")

// Placeholder is the provider used when no model is configured. Every
// call fails without retry.
type Placeholder struct{}

// Send returns ErrNotImplemented.
func (Placeholder) Send(ctx context.Context, systemPrompt string, conversation []agent.Message, tools []agent.ToolSchema) (agent.Response, error) {
	return agent.Response{}, agent.Fatal(0, ErrNotImplemented)
}

// Usage is the token accounting reported by a provider for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LogUsage records one model round-trip.
func LogUsage(provider, model string, usage *Usage, toolCalls int) {
	fields := map[string]any{
		"provider":   provider,
		"model":      model,
		"tool_calls": toolCalls,
	}
	if usage != nil {
		fields["prompt_tokens"] = usage.PromptTokens
		fields["completion_tokens"] = usage.CompletionTokens
		fields["total_tokens"] = usage.TotalTokens
	}
	telemetry.Debug("llm.response", fields)
}

var _ agent.Provider = Placeholder{}
