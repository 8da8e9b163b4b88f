package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/queue"
)

type runnerFunc func(ctx context.Context, task string, input map[string]any, onProgress agent.ProgressFunc) agent.Outcome

func (f runnerFunc) Run(ctx context.Context, task string, input map[string]any, onProgress agent.ProgressFunc) agent.Outcome {
	return f(ctx, task, input, onProgress)
}

type staticAgents struct {
	runner Runner
}

func (a staticAgents) For(entityType EntityType) (AgentPlan, error) {
	return AgentPlan{Runner: a.runner, Task: "analyze " + string(entityType)}, nil
}

// countingRunner returns outputs in order and records how often it ran.
type countingRunner struct {
	mu      sync.Mutex
	calls   int
	outcome func(call int) agent.Outcome
}

func (r *countingRunner) Run(ctx context.Context, task string, input map[string]any, onProgress agent.ProgressFunc) agent.Outcome {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	if onProgress != nil {
		onProgress(agent.ProgressEvent{Type: agent.EventStarted, Detail: "start"})
	}
	return r.outcome(call)
}

func (r *countingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (q *fakeQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func newTestService(t *testing.T, runner Runner) (*Service, *MemoryRepo, *recordingSleeper) {
	t.Helper()
	repo := NewMemoryRepo()
	sleeper := &recordingSleeper{}
	svc := &Service{
		Repo:   repo,
		Agents: staticAgents{runner: runner},
		sleep:  sleeper.Sleep,
	}
	t.Cleanup(svc.Wait)
	return svc, repo, sleeper
}

func dealRequest(id string) SubmitRequest {
	return SubmitRequest{EntityType: EntityDeal, EntityID: id, EntityName: "Deal " + id, UserID: "user-1"}
}

func mustGet(t *testing.T, repo Repo, id string) Job {
	t.Helper()
	job, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return job
}

func successOutput(output string) agent.Outcome {
	return agent.Outcome{Success: true, Output: output, Stats: agent.Stats{Iterations: 1}}
}
