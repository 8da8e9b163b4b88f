// Package langchain implements agent.Provider over langchaingo models.
package langchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/llm"
)

// Backends supported by New.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// Options selects and configures the backend model.
type Options struct {
	Backend         string
	Model           string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	OllamaHost      string
}

// Provider adapts an llms.Model to agent.Provider.
type Provider struct {
	model     llms.Model
	backend   string
	modelName string
}

// New builds a Provider for the configured backend.
func New(opts Options) (*Provider, error) {
	var (
		model llms.Model
		err   error
	)
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	switch backend {
	case BackendOllama:
		model, err = ollama.New(
			ollama.WithModel(opts.Model),
			ollama.WithServerURL(opts.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case BackendOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		openaiOpts := []openai.Option{
			openai.WithToken(opts.OpenAIAPIKey),
			openai.WithModel(opts.Model),
		}
		if opts.OpenAIBaseURL != "" {
			openaiOpts = append(openaiOpts, openai.WithBaseURL(opts.OpenAIBaseURL))
		}
		model, err = openai.New(openaiOpts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case BackendAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(opts.AnthropicAPIKey),
			anthropic.WithModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", opts.Backend)
	}
	return NewWithModel(model, backend, opts.Model), nil
}

// NewWithModel wraps an existing llms.Model.
func NewWithModel(model llms.Model, backend, modelName string) *Provider {
	return &Provider{model: model, backend: backend, modelName: modelName}
}

// Send performs one GenerateContent round-trip with the tool schemas attached.
func (p *Provider) Send(ctx context.Context, systemPrompt string, conversation []agent.Message, tools []agent.ToolSchema) (agent.Response, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(0)}
	if len(tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(toLLMTools(tools)))
	}

	resp, err := p.model.GenerateContent(ctx, toMessages(systemPrompt, conversation), callOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return agent.Response{}, ctx.Err()
		}
		return agent.Response{}, agent.ClassifyProviderError(fmt.Errorf("%s generate: %w", p.backend, err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return agent.Response{}, agent.Fatal(0, fmt.Errorf("%s: no response choices", p.backend))
	}

	choice := resp.Choices[0]
	out := agent.Response{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := strings.TrimSpace(tc.FunctionCall.Arguments)
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: json.RawMessage(args),
		})
	}
	llm.LogUsage(p.backend, p.modelName, usageFrom(choice.GenerationInfo), len(out.ToolCalls))
	return out, nil
}

func toMessages(systemPrompt string, conversation []agent.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(conversation)+1)
	if s := strings.TrimSpace(systemPrompt); s != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, s))
	}
	for _, m := range conversation {
		switch m.Role {
		case agent.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case agent.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case agent.RoleAssistant:
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				msg.Parts = append(msg.Parts, llms.TextContent{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			out = append(out, msg)
		case agent.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}

func toLLMTools(tools []agent.ToolSchema) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// usageFrom reads token counts from GenerationInfo. Backends use different
// key names, so both spellings are checked.
func usageFrom(info map[string]any) *llm.Usage {
	if len(info) == 0 {
		return nil
	}
	prompt, okP := intField(info, "PromptTokens", "InputTokens")
	completion, okC := intField(info, "CompletionTokens", "OutputTokens")
	if !okP && !okC {
		return nil
	}
	total, ok := intField(info, "TotalTokens")
	if !ok {
		total = prompt + completion
	}
	return &llm.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func intField(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

var _ agent.Provider = (*Provider)(nil)
