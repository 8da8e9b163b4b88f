package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     int
	seen      [][]Message
}

func (p *scriptedProvider) Send(ctx context.Context, systemPrompt string, conversation []Message, tools []ToolSchema) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	p.seen = append(p.seen, append([]Message(nil), conversation...))
	if idx < len(p.errs) && p.errs[idx] != nil {
		return Response{}, p.errs[idx]
	}
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	return p.responses[len(p.responses)-1], nil
}

type loopingProvider struct {
	calls int
}

func (p *loopingProvider) Send(ctx context.Context, systemPrompt string, conversation []Message, tools []ToolSchema) (Response, error) {
	p.calls++
	return Response{ToolCalls: []ToolCall{{ID: "again", Name: "echo", Arguments: json.RawMessage(`{"value":"x"}`)}}}, nil
}

type echoTool struct {
	name string
	err  error
}

func (t echoTool) Name() string                { return t.name }
func (t echoTool) Description() string         { return "echoes its input" }
func (t echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t echoTool) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	if t.err != nil {
		return nil, t.err
	}
	var decoded map[string]any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func newTestEngine(t *testing.T, provider Provider, maxIterations int, tools ...Tool) *Engine {
	t.Helper()
	registry, err := NewRegistry(tools...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	engine, err := NewEngine(provider, Config{SystemPrompt: "system", Tools: registry, MaxIterations: maxIterations})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestRunReturnsTextAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []Response{{Text: `{"dealScore": 70}`}}}
	engine := newTestEngine(t, provider, 5)

	var events []ProgressEvent
	out := engine.Run(context.Background(), "analyze deal", map[string]any{"entityId": "d-1"}, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	if !out.Success {
		t.Fatalf("expected success, got error %q", out.Error)
	}
	if out.Output != `{"dealScore": 70}` {
		t.Fatalf("unexpected output %q", out.Output)
	}
	if out.Stats.Iterations != 1 || out.Stats.ToolCalls != 0 {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}
	if len(events) != 2 || events[0].Type != EventStarted || events[1].Type != EventComplete {
		t.Fatalf("unexpected events %+v", events)
	}
	if !strings.Contains(provider.seen[0][0].Content, `"entityId": "d-1"`) {
		t.Fatalf("expected context merged into prompt, got %q", provider.seen[0][0].Content)
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	provider := &loopingProvider{}
	engine := newTestEngine(t, provider, 3, echoTool{name: "echo"})

	out := engine.Run(context.Background(), "loop forever", nil, nil)

	if provider.calls != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", provider.calls)
	}
	if out.Success {
		t.Fatalf("expected failure outcome")
	}
	if !errors.Is(out.Err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", out.Err)
	}
	if out.Stats.Iterations != 3 || out.Stats.ToolCalls != 3 {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}
}

func TestRunFeedsToolFailuresBackToModel(t *testing.T) {
	provider := &scriptedProvider{responses: []Response{
		{ToolCalls: []ToolCall{
			{ID: "a", Name: "broken", Arguments: json.RawMessage(`{}`)},
			{ID: "b", Name: "echo", Arguments: json.RawMessage(`{"value":"hi"}`)},
			{ID: "c", Name: "missing"},
		}},
		{Text: "done"},
	}}
	engine := newTestEngine(t, provider, 4, echoTool{name: "echo"}, echoTool{name: "broken", err: errors.New("crm unavailable")})

	var events []ProgressEvent
	out := engine.Run(context.Background(), "task", nil, func(ev ProgressEvent) { events = append(events, ev) })

	if !out.Success || out.Output != "done" {
		t.Fatalf("expected success with final text, got %+v", out)
	}
	if out.Stats.ToolCalls != 3 || out.Stats.Iterations != 2 {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}

	second := provider.seen[1]
	toolMsgs := second[len(second)-3:]
	wantIDs := []string{"a", "b", "c"}
	for i, msg := range toolMsgs {
		if msg.Role != RoleTool || msg.ToolCallID != wantIDs[i] {
			t.Fatalf("tool message %d: got role=%s id=%s", i, msg.Role, msg.ToolCallID)
		}
	}
	var broken ToolResult
	if err := json.Unmarshal([]byte(toolMsgs[0].Content), &broken); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if broken.Success || broken.Error != "crm unavailable" {
		t.Fatalf("unexpected failure result %+v", broken)
	}
	var missing ToolResult
	if err := json.Unmarshal([]byte(toolMsgs[2].Content), &missing); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if missing.Success || !strings.Contains(missing.Error, "tool not found") {
		t.Fatalf("unexpected missing tool result %+v", missing)
	}

	wantTypes := []EventType{EventStarted, EventToolCall, EventToolCall, EventToolCall, EventToolResult, EventToolResult, EventToolResult, EventComplete}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantTypes), len(events), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: got %s want %s", i, events[i].Type, want)
		}
	}
	if events[4].ToolCallID != "a" || events[5].ToolCallID != "b" || events[6].ToolCallID != "c" {
		t.Fatalf("tool results out of request order: %+v", events[4:7])
	}
}

func TestRunCapturesProviderErrors(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("HTTP 429 Too Many Requests")}, responses: []Response{{Text: "unused"}}}
	engine := newTestEngine(t, provider, 5)

	out := engine.Run(context.Background(), "task", nil, nil)

	if out.Success {
		t.Fatalf("expected failure")
	}
	if !IsRateLimited(out.Err) {
		t.Fatalf("expected rate limited classification, got %v", out.Err)
	}
	if out.Error == "" {
		t.Fatalf("expected error string")
	}
	if provider.calls != 1 {
		t.Fatalf("engine must not retry, got %d calls", provider.calls)
	}
	if out.Stats.Iterations != 1 {
		t.Fatalf("expected stats to report 1 iteration, got %d", out.Stats.Iterations)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &loopingProvider{}
	engine := newTestEngine(t, provider, 5, echoTool{name: "echo"})

	out := engine.Run(ctx, "task", nil, nil)

	if provider.calls != 0 {
		t.Fatalf("expected no provider calls after cancellation, got %d", provider.calls)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", out.Err)
	}
}

func TestNewEngineRejectsZeroIterations(t *testing.T) {
	if _, err := NewEngine(&loopingProvider{}, Config{MaxIterations: 0}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTruncateDetailKeepsRunesWhole(t *testing.T) {
	got := truncate("a" + strings.Repeat("ü", maxDetailLen))
	if !utf8.ValidString(got) {
		t.Fatalf("truncated detail is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxDetailLen+3 {
		t.Fatalf("unexpected truncation %q (len %d)", got, len(got))
	}
}
