package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"salesops-backend/internal/shared/util"
)

const (
	defaultParallelism = 4
	maxDetailLen       = 300
)

// Config configures an Engine.
type Config struct {
	SystemPrompt  string
	Tools         *Registry
	MaxIterations int
	// Parallelism bounds concurrent tool invocations within one iteration.
	Parallelism int
}

// Stats reports execution counters for a run, successful or not.
type Stats struct {
	DurationMs int64 `json:"durationMs"`
	ToolCalls  int   `json:"toolCalls"`
	Iterations int   `json:"iterations"`
}

// Outcome is the result of one engine run.
type Outcome struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Stats   Stats  `json:"stats"`
	// Err keeps the typed failure for classification by callers.
	Err error `json:"-"`
}

// Engine runs a bounded tool-calling conversation against a Provider.
// It is a single-attempt executor: provider failures end the run.
type Engine struct {
	provider Provider
	cfg      Config
	now      func() time.Time
}

// NewEngine validates the configuration and returns an Engine.
func NewEngine(provider Provider, cfg Config) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("%w: max iterations must be >= 1, got %d", ErrInvalidConfig, cfg.MaxIterations)
	}
	if cfg.Tools == nil {
		cfg.Tools = &Registry{tools: map[string]Tool{}}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Engine{provider: provider, cfg: cfg, now: time.Now}, nil
}

// Run executes the loop for one task. The context is checked at every
// iteration boundary and before each tool call.
func (e *Engine) Run(ctx context.Context, task string, input map[string]any, onProgress ProgressFunc) Outcome {
	start := e.now()
	var stats Stats
	emit := func(ev ProgressEvent) {
		if onProgress == nil {
			return
		}
		ev.Timestamp = e.now().UTC()
		onProgress(ev)
	}
	finish := func(out Outcome) Outcome {
		stats.DurationMs = e.now().Sub(start).Milliseconds()
		out.Stats = stats
		if out.Err != nil && out.Error == "" {
			out.Error = out.Err.Error()
		}
		return out
	}

	prompt, err := buildPrompt(task, input)
	if err != nil {
		emit(ProgressEvent{Type: EventError, Detail: err.Error()})
		return finish(Outcome{Err: err})
	}
	schemas := e.cfg.Tools.Schemas()
	conversation := []Message{{Role: RoleUser, Content: prompt}}
	emit(ProgressEvent{Type: EventStarted, Detail: fmt.Sprintf("%d tools available", len(schemas))})

	var lastText string
	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			emit(ProgressEvent{Type: EventError, Detail: "cancelled", Iteration: iteration})
			return finish(Outcome{Output: lastText, Err: err})
		}
		stats.Iterations = iteration

		resp, err := e.provider.Send(ctx, e.cfg.SystemPrompt, conversation, schemas)
		if err != nil {
			err = ClassifyProviderError(err)
			emit(ProgressEvent{Type: EventError, Detail: truncate(err.Error()), Iteration: iteration})
			return finish(Outcome{Output: lastText, Err: err})
		}

		if len(resp.ToolCalls) == 0 {
			emit(ProgressEvent{Type: EventComplete, Detail: fmt.Sprintf("finished after %d iterations", iteration), Iteration: iteration})
			return finish(Outcome{Success: true, Output: resp.Text})
		}

		if text := strings.TrimSpace(resp.Text); text != "" {
			lastText = text
			emit(ProgressEvent{Type: EventThinking, Detail: truncate(text), Iteration: iteration})
		}

		calls := normalizeCalls(resp.ToolCalls, iteration)
		conversation = append(conversation, Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: calls})
		conversation = append(conversation, e.executeTools(ctx, iteration, calls, emit)...)
		stats.ToolCalls += len(calls)
	}

	emit(ProgressEvent{Type: EventError, Detail: ErrMaxIterations.Error(), Iteration: e.cfg.MaxIterations})
	return finish(Outcome{Output: lastText, Err: ErrMaxIterations})
}

// executeTools runs the requested calls concurrently and returns one tool
// message per call in the order the model requested them.
func (e *Engine) executeTools(ctx context.Context, iteration int, calls []ToolCall, emit func(ProgressEvent)) []Message {
	for _, call := range calls {
		emit(ProgressEvent{
			Type:       EventToolCall,
			Detail:     truncate(string(call.Arguments)),
			Iteration:  iteration,
			Tool:       call.Name,
			ToolCallID: call.ID,
		})
	}

	results := make([]ToolResult, len(calls))
	sem := make(chan struct{}, e.cfg.Parallelism)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()

	messages := make([]Message, 0, len(calls))
	for i, call := range calls {
		res := results[i]
		detail := "ok"
		if !res.Success {
			detail = truncate(res.Error)
		}
		emit(ProgressEvent{
			Type:       EventToolResult,
			Detail:     detail,
			Iteration:  iteration,
			Tool:       call.Name,
			ToolCallID: call.ID,
		})
		messages = append(messages, Message{
			Role:       RoleTool,
			Content:    res.encode(),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return messages
}

func (e *Engine) invoke(ctx context.Context, call ToolCall) (res ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = toolFailure(fmt.Errorf("tool %s panicked: %v", call.Name, r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return toolFailure(fmt.Errorf("skipped: %w", err))
	}
	tool, ok := e.cfg.Tools.Get(call.Name)
	if !ok {
		return toolFailure(fmt.Errorf("%w: %s", ErrToolNotFound, call.Name))
	}
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	data, err := tool.Invoke(ctx, args)
	if err != nil {
		return toolFailure(err)
	}
	return toolSuccess(data)
}

func normalizeCalls(calls []ToolCall, iteration int) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		out[i] = call
	}
	return out
}

func buildPrompt(task string, input map[string]any) (string, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return "", errors.New("task is required")
	}
	if len(input) == 0 {
		return task, nil
	}
	encoded, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return task + "\n\nContext:\n" + string(encoded), nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetailLen {
		return s
	}
	return util.Truncate(s, maxDetailLen) + "..."
}
