package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool is an external capability the agent may invoke mid-conversation.
// Implementations must be safe for concurrent use.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Invoke(ctx context.Context, input json.RawMessage) (any, error)
}

// ToolResult is the typed outcome fed back to the model for one invocation.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toolSuccess(data any) ToolResult {
	return ToolResult{Success: true, Data: data}
}

func toolFailure(err error) ToolResult {
	if err == nil {
		return ToolResult{Success: false, Error: "unknown error"}
	}
	return ToolResult{Success: false, Error: err.Error()}
}

func (r ToolResult) encode() string {
	payload, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(ToolResult{Success: false, Error: fmt.Sprintf("encode tool result: %v", err)})
		return string(fallback)
	}
	return string(payload)
}

// Registry is a resolved tool set with unique names.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry, rejecting nil tools and duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("%w: empty tool name", ErrInvalidTool)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns a registry holding only the named tools.
func (r *Registry) Subset(names []string) (*Registry, error) {
	out := &Registry{tools: make(map[string]Tool, len(names))}
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		if err := out.Register(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Schemas returns the tool schemas in name order.
func (r *Registry) Schemas() []ToolSchema {
	names := r.Names()
	schemas := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		schemas = append(schemas, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return schemas
}
