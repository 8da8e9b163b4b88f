package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/jobs"
	"salesops-backend/internal/shared/config"
	"salesops-backend/internal/shared/telemetry"
)

// Agents holds one engine per entity type, built from the agent profiles.
type Agents struct {
	plans map[jobs.EntityType]jobs.AgentPlan
}

// NewAgents builds an engine for every profile. Profile tools that are not
// registered (their backend is unconfigured) are skipped with a warning.
func NewAgents(provider agent.Provider, registry *agent.Registry, profiles config.Profiles) (*Agents, error) {
	a := &Agents{plans: make(map[jobs.EntityType]jobs.AgentPlan, len(profiles))}
	for _, name := range profiles.EntityTypes() {
		entityType := jobs.EntityType(name)
		if !entityType.Valid() {
			return nil, fmt.Errorf("profile %q: unsupported entity type", name)
		}
		profile := profiles[name]

		available, missing := splitTools(registry, profile.Tools)
		if len(missing) > 0 {
			telemetry.Warn("agent.tools_unavailable", map[string]any{
				"entity_type": name,
				"tools":       missing,
			})
		}
		subset, err := registry.Subset(available)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		engine, err := agent.NewEngine(provider, agent.Config{
			SystemPrompt:  profile.SystemPrompt,
			Tools:         subset,
			MaxIterations: profile.MaxIterations,
			Parallelism:   profile.Parallelism,
		})
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}

		var runner jobs.Runner = engine
		if profile.Timeout > 0 {
			runner = timeoutRunner{runner: engine, timeout: profile.Timeout}
		}
		a.plans[entityType] = jobs.AgentPlan{Runner: runner, Task: profile.Task}
	}
	return a, nil
}

// For returns the plan for entityType.
func (a *Agents) For(entityType jobs.EntityType) (jobs.AgentPlan, error) {
	plan, ok := a.plans[entityType]
	if !ok {
		return jobs.AgentPlan{}, fmt.Errorf("no agent configured for entity type %q", entityType)
	}
	return plan, nil
}

func splitTools(registry *agent.Registry, names []string) (available, missing []string) {
	for _, name := range names {
		if _, ok := registry.Get(name); ok {
			available = append(available, name)
		} else {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return available, missing
}

// timeoutRunner bounds a single attempt.
type timeoutRunner struct {
	runner  jobs.Runner
	timeout time.Duration
}

func (r timeoutRunner) Run(ctx context.Context, task string, input map[string]any, onProgress agent.ProgressFunc) agent.Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.runner.Run(ctx, task, input, onProgress)
}

var _ jobs.Agents = (*Agents)(nil)
