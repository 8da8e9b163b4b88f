package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/queue"
	"salesops-backend/internal/shared/metrics"
	"salesops-backend/internal/shared/storage/object"
	"salesops-backend/internal/shared/telemetry"
)

// Runner executes one analysis attempt. *agent.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, task string, input map[string]any, onProgress agent.ProgressFunc) agent.Outcome
}

// AgentPlan is the runner and task configured for one entity type.
type AgentPlan struct {
	Runner Runner
	Task   string
}

// Agents resolves the agent configured for an entity type.
type Agents interface {
	For(entityType EntityType) (AgentPlan, error)
}

// SubmitRequest describes one requested analysis.
type SubmitRequest struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	EntityName string     `json:"entityName"`
	UserID     string     `json:"-"`
	Retry      *RetryOptions
}

// RetryOptions enables whole-run retry for a submission.
type RetryOptions struct {
	MaxRetries     int   `json:"maxRetries"`
	InitialDelayMs int64 `json:"initialDelayMs"`
}

// Service owns the job lifecycle. It is the only writer of a job's status,
// result and history while the job is live.
type Service struct {
	Repo   Repo
	Agents Agents
	// JobQueue, when set, receives dispatch messages instead of running jobs
	// in-process.
	JobQueue queue.Client
	// Archive, when set, receives a JSON copy of every completed result.
	Archive object.ObjectStore

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Submit creates one pending job and starts it asynchronously.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	created, err := s.SubmitBatch(ctx, []SubmitRequest{req})
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			vErr.Field = strings.TrimPrefix(vErr.Field, "jobs[0].")
		}
		return Job{}, err
	}
	return created[0], nil
}

// SubmitWithRetry is Submit with whole-run retry on rate-limit failures.
// maxRetries is the total number of engine attempts.
func (s *Service) SubmitWithRetry(ctx context.Context, req SubmitRequest, maxRetries int, initialDelayMs int64) (Job, error) {
	req.Retry = &RetryOptions{MaxRetries: maxRetries, InitialDelayMs: initialDelayMs}
	return s.Submit(ctx, req)
}

// SubmitBatch validates every request before creating anything, looks up
// prior completed jobs once for all entities, and stores the batch atomically.
func (s *Service) SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]Job, error) {
	if err := validateBatch(reqs); err != nil {
		return nil, err
	}
	if s.Repo == nil {
		return nil, errors.New("job repo not configured")
	}

	keys := make([]EntityKey, 0, len(reqs))
	seen := make(map[EntityKey]struct{}, len(reqs))
	for _, req := range reqs {
		key := EntityKey{EntityType: req.EntityType, EntityID: strings.TrimSpace(req.EntityID)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	previous, err := s.Repo.LatestCompleted(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup previous jobs: %w", err)
	}

	now := s.clock()
	created := make([]Job, 0, len(reqs))
	for _, req := range reqs {
		key := EntityKey{EntityType: req.EntityType, EntityID: strings.TrimSpace(req.EntityID)}
		var prev *Job
		if p, ok := previous[key]; ok {
			prev = &p
		}
		created = append(created, newJob(req, prev, now))
	}
	if err := s.Repo.CreateMany(ctx, created); err != nil {
		return nil, fmt.Errorf("create jobs: %w", err)
	}
	metrics.AddJobsSubmitted(len(created))

	for i := range created {
		telemetry.Info("job.status", map[string]any{
			"request_id":        requestIDFromContext(ctx),
			"job_id":            created[i].ID,
			"entity_type":       created[i].EntityType,
			"entity_id":         created[i].EntityID,
			"version":           created[i].Version,
			"status":            StatusPending,
			"status_transition": "->pending",
		})
		created[i] = s.dispatch(ctx, created[i])
	}
	return created, nil
}

func newJob(req SubmitRequest, previous *Job, now time.Time) Job {
	job := Job{
		ID:         uuid.NewString(),
		EntityType: req.EntityType,
		EntityID:   strings.TrimSpace(req.EntityID),
		EntityName: strings.TrimSpace(req.EntityName),
		UserID:     req.UserID,
		Status:     StatusPending,
		StartedAt:  now,
		Version:    1,
		AnalysisID: uuid.NewString(),
		History:    []Snapshot{},
		UpdatedAt:  now,
	}
	if previous != nil {
		job.Version = previous.Version + 1
		job.PreviousJobID = previous.ID
		job.History = seedHistory(*previous)
	}
	if req.Retry != nil {
		job.RetryConfig = &RetryConfig{
			MaxRetries:     req.Retry.MaxRetries,
			InitialDelayMs: req.Retry.InitialDelayMs,
		}
	}
	return job
}

// dispatch hands a stored job to the queue or to a background goroutine.
// A queue send failure fails the job; the updated record is returned.
func (s *Service) dispatch(ctx context.Context, job Job) Job {
	if s.JobQueue == nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.executeAsync(backgroundWithRequestID(ctx), job.ID)
		}()
		return job
	}

	msg := queue.NewMessage(job.ID, requestIDFromContext(ctx), s.clock())
	if err := s.JobQueue.Send(ctx, msg); err != nil {
		return s.fail(context.Background(), job, ErrorCodeInternal, fmt.Errorf("dispatch job: %w", err), nil, nil)
	}
	return job
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, jobID string) (Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return Job{}, invalid("jobId", "is required")
	}
	return s.Repo.GetByID(ctx, jobID)
}

// Timeline returns completed and errored jobs for an entity, most recent first.
func (s *Service) Timeline(ctx context.Context, entityType EntityType, entityID string, limit int) ([]Job, error) {
	if !entityType.Valid() {
		return nil, invalid("entityType", "must be one of contact, company, deal")
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, invalid("entityId", "is required")
	}
	key := EntityKey{EntityType: entityType, EntityID: entityID}
	return s.Repo.ListByEntity(ctx, key, []Status{StatusComplete, StatusError}, limit)
}

// Cancel moves a pending or running job to cancelled. A terminal job is left
// untouched and ErrNotCancellable is returned with its current state.
func (s *Service) Cancel(ctx context.Context, jobID string) (Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return Job{}, invalid("jobId", "is required")
	}
	now := s.clock()
	var from Status
	job, err := s.Repo.Update(ctx, jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return ErrNotCancellable
		}
		from = j.Status
		j.Status = StatusCancelled
		j.CompletedAt = &now
		j.UpdatedAt = now
		return nil
	})
	if errors.Is(err, ErrNotCancellable) {
		current, getErr := s.Repo.GetByID(ctx, jobID)
		if getErr != nil {
			return Job{}, getErr
		}
		return current, ErrNotCancellable
	}
	if err != nil {
		return Job{}, err
	}

	s.stopRunning(jobID)
	metrics.IncJobsCancelled()
	telemetry.Info("job.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            job.ID,
		"entity_type":       job.EntityType,
		"entity_id":         job.EntityID,
		"status":            StatusCancelled,
		"status_transition": string(from) + "->cancelled",
	})
	return job, nil
}

// Wait blocks until every in-process execution started by this service returns.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) trackRunning(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[string]context.CancelFunc)
	}
	s.running[jobID] = cancel
}

func (s *Service) untrackRunning(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

func (s *Service) stopRunning(jobID string) {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func validateBatch(reqs []SubmitRequest) error {
	if len(reqs) == 0 {
		return invalid("jobs", "must contain at least one entry")
	}
	if len(reqs) > MaxBatchSize {
		return invalid("jobs", fmt.Sprintf("must contain at most %d entries, got %d", MaxBatchSize, len(reqs)))
	}
	for i, req := range reqs {
		prefix := fmt.Sprintf("jobs[%d].", i)
		if strings.TrimSpace(string(req.EntityType)) == "" {
			return invalid(prefix+"entityType", "is required")
		}
		if !req.EntityType.Valid() {
			return invalid(prefix+"entityType", "must be one of contact, company, deal")
		}
		if strings.TrimSpace(req.EntityID) == "" {
			return invalid(prefix+"entityId", "is required")
		}
		if strings.TrimSpace(req.EntityName) == "" {
			return invalid(prefix+"entityName", "is required")
		}
		if req.Retry != nil {
			if req.Retry.MaxRetries < 1 {
				return invalid(prefix+"maxRetries", "must be >= 1")
			}
			if req.Retry.InitialDelayMs < 0 || req.Retry.InitialDelayMs > MaxInitialDelayMs {
				return invalid(prefix+"initialDelayMs", fmt.Sprintf("must be between 0 and %d", MaxInitialDelayMs))
			}
		}
	}
	return nil
}
