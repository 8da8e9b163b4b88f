// Package openai implements agent.Provider over the OpenAI Chat Completions
// API with tool calling.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/llm"
	"salesops-backend/internal/shared/util"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	maxErrorBody   = 512
)

// Client implements agent.Provider using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient constructs a new OpenAI client.
func NewClient(apiKey, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Send performs one chat completion round-trip. 429 responses are rate
// limited; any other non-2xx status or malformed body is fatal.
func (c *Client) Send(ctx context.Context, systemPrompt string, conversation []agent.Message, tools []agent.ToolSchema) (agent.Response, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: toChatMessages(systemPrompt, conversation),
		Tools:    toChatTools(tools),
	}
	if supportsTemperature(c.model) {
		temp := float32(0)
		reqBody.Temperature = &temp
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return agent.Response{}, agent.Fatal(0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return agent.Response{}, agent.Fatal(0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return agent.Response{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return agent.Response{}, agent.Fatal(0, fmt.Errorf("openai request timeout: %w", err))
		}
		return agent.Response{}, agent.Fatal(0, fmt.Errorf("openai request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return agent.Response{}, agent.Fatal(resp.StatusCode, fmt.Errorf("read openai response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return agent.Response{}, agent.RateLimited(resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("openai: %s", snippet(body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return agent.Response{}, agent.Fatal(resp.StatusCode, fmt.Errorf("openai: %s", snippet(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return agent.Response{}, agent.Fatal(resp.StatusCode, fmt.Errorf("openai response parse: %w", err))
	}
	if parsed.Error != nil {
		return agent.Response{}, agent.Fatal(resp.StatusCode, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return agent.Response{}, agent.Fatal(resp.StatusCode, fmt.Errorf("openai response missing choices"))
	}

	msg := parsed.Choices[0].Message
	out := agent.Response{}
	if msg.Content != nil {
		out.Text = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(defaultArgs(tc.Function.Arguments)),
		})
	}
	var usage *llm.Usage
	if parsed.Usage != nil {
		usage = &llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	llm.LogUsage("openai", c.model, usage, len(out.ToolCalls))
	return out, nil
}

func toChatMessages(systemPrompt string, conversation []agent.Message) []chatMessage {
	out := make([]chatMessage, 0, len(conversation)+1)
	if s := strings.TrimSpace(systemPrompt); s != "" {
		out = append(out, chatMessage{Role: string(agent.RoleSystem), Content: &s})
	}
	for _, m := range conversation {
		content := m.Content
		cm := chatMessage{Role: string(m.Role), Content: &content}
		switch m.Role {
		case agent.RoleAssistant:
			if len(m.ToolCalls) > 0 && content == "" {
				cm.Content = nil
			}
			for _, call := range m.ToolCalls {
				var tc chatToolCall
				tc.ID = call.ID
				tc.Type = "function"
				tc.Function.Name = call.Name
				tc.Function.Arguments = defaultArgs(string(call.Arguments))
				cm.ToolCalls = append(cm.ToolCalls, tc)
			}
		case agent.RoleTool:
			cm.ToolCallID = m.ToolCallID
		}
		out = append(out, cm)
	}
	return out
}

func toChatTools(tools []agent.ToolSchema) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

func defaultArgs(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return util.Truncate(s, maxErrorBody) + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

// supportsTemperature reports whether temperature=0 may be sent. Reasoning
// models and anything listed in LLM_NO_TEMP0_MODELS reject it.
func supportsTemperature(model string) bool {
	if isGPT5(model) {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(model))
	for _, denied := range strings.Split(os.Getenv("LLM_NO_TEMP0_MODELS"), ",") {
		if strings.ToLower(strings.TrimSpace(denied)) == normalized && normalized != "" {
			return false
		}
	}
	return true
}

var _ agent.Provider = (*Client)(nil)
