package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salesops-backend/internal/agent"
)

func TestIsGPT5(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "gpt5", model: "gpt-5", want: true},
		{name: "gpt5 variant", model: "gpt-5-mini", want: true},
		{name: "gpt5 uppercase", model: " GPT-5o ", want: true},
		{name: "gpt4", model: "gpt-4o", want: false},
		{name: "empty", model: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := isGPT5(tt.model); got != tt.want {
				t.Fatalf("isGPT5(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestSupportsTemperatureHonorsDenylist(t *testing.T) {
	t.Setenv("LLM_NO_TEMP0_MODELS", "o3-mini, custom-model")
	if supportsTemperature("custom-model") || supportsTemperature("gpt-5-mini") {
		t.Fatalf("denylisted models must omit temperature")
	}
	if !supportsTemperature("gpt-4o") {
		t.Fatalf("gpt-4o should send temperature")
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient("test-key", "gpt-4o", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSendMapsToolCallsBothWays(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected request %s %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"crm_lookup","arguments":"{\"entityId\":\"d-1\"}"}},
			{"id":"call_2","type":"function","function":{"name":"web_search","arguments":""}}
		]}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	conversation := []agent.Message{
		{Role: agent.RoleUser, Content: "analyze"},
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "prev", Name: "fetch_url", Arguments: json.RawMessage(`{"url":"x"}`)}}},
		{Role: agent.RoleTool, ToolCallID: "prev", Name: "fetch_url", Content: `{"success":true}`},
	}
	tools := []agent.ToolSchema{{Name: "crm_lookup", Description: "CRM", Parameters: map[string]any{"type": "object"}}}

	resp, err := client.Send(context.Background(), "be precise", conversation, tools)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "crm_lookup" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if string(resp.ToolCalls[1].Arguments) != "{}" {
		t.Fatalf("empty arguments should default to {}, got %s", resp.ToolCalls[1].Arguments)
	}

	if len(got.Messages) != 4 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request messages %+v", got.Messages)
	}
	if got.Messages[2].Content != nil || len(got.Messages[2].ToolCalls) != 1 || got.Messages[2].ToolCalls[0].Type != "function" {
		t.Fatalf("unexpected assistant message %+v", got.Messages[2])
	}
	if got.Messages[3].ToolCallID != "prev" {
		t.Fatalf("unexpected tool message %+v", got.Messages[3])
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "crm_lookup" {
		t.Fatalf("unexpected tools %+v", got.Tools)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Fatalf("expected temperature 0")
	}
}

func TestSendReturnsFinalText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"dealScore\":70}"}}]}`))
	})
	resp, err := client.Send(context.Background(), "", []agent.Message{{Role: agent.RoleUser, Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text != `{"dealScore":70}` || len(resp.ToolCalls) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSendClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
	}{
		{name: "429", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, rateLimited: true},
		{name: "500", status: http.StatusInternalServerError, body: `oops`, rateLimited: false},
		{name: "401", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, rateLimited: false},
		{name: "malformed 200", status: http.StatusOK, body: `not json`, rateLimited: false},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, rateLimited: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Send(context.Background(), "", []agent.Message{{Role: agent.RoleUser, Content: "x"}}, nil)
			var pe *agent.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if agent.IsRateLimited(err) != tt.rateLimited {
				t.Fatalf("IsRateLimited = %v, want %v (%v)", !tt.rateLimited, tt.rateLimited, err)
			}
			if tt.rateLimited && pe.RetryAfter != 7*time.Second {
				t.Fatalf("expected Retry-After 7s, got %s", pe.RetryAfter)
			}
		})
	}
}

func TestNewClientRequiresKeyAndModel(t *testing.T) {
	if _, err := NewClient("", "gpt-4o"); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewClient("k", " "); err == nil {
		t.Fatalf("expected missing model error")
	}
}
