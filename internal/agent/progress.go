package agent

import "time"

// EventType names a step of an engine run.
type EventType string

const (
	EventStarted    EventType = "started"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventThinking   EventType = "thinking"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// ProgressEvent is emitted synchronously, in loop order, for every effectful step.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	Detail     string    `json:"detail"`
	Iteration  int       `json:"iteration,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressFunc receives progress events. It may be nil.
type ProgressFunc func(ProgressEvent)
