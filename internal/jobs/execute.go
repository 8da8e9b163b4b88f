package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/changes"
	"salesops-backend/internal/shared/metrics"
	"salesops-backend/internal/shared/telemetry"
	"salesops-backend/internal/shared/util"
)

const maxErrorLen = 500

// Execute runs a stored job to a terminal state. Jobs that are no longer
// pending are skipped, so redelivered or cancelled work is acknowledged
// without running.
func (s *Service) Execute(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return invalid("jobId", "is required")
	}
	return s.execute(ctx, jobID)
}

func (s *Service) executeAsync(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			job, err := s.Repo.GetByID(context.Background(), jobID)
			if err != nil {
				job = Job{ID: jobID}
			}
			s.fail(ctx, job, ErrorCodeInternal, fmt.Errorf("panic: %v", r), nil, nil)
		}
	}()
	if err := s.execute(ctx, jobID); err != nil {
		telemetry.Error("job.execute_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     jobID,
			"error":      sanitizeError(err),
		})
	}
}

func (s *Service) execute(ctx context.Context, jobID string) error {
	startedAt := s.clock()
	job, err := s.Repo.Update(ctx, jobID, func(j *Job) error {
		if j.Status != StatusPending {
			return errNotPending
		}
		j.Status = StatusRunning
		j.StartedAt = startedAt
		j.UpdatedAt = startedAt
		return nil
	})
	if errors.Is(err, errNotPending) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	metrics.IncJobsStarted()
	s.logStatus(ctx, job, StatusRunning, "pending->running", nil)

	if s.Agents == nil {
		s.fail(ctx, job, ErrorCodeInternal, errors.New("agents not configured"), &startedAt, nil)
		return nil
	}
	plan, err := s.Agents.For(job.EntityType)
	if err != nil {
		s.fail(ctx, job, ErrorCodeInternal, fmt.Errorf("resolve agent: %w", err), &startedAt, nil)
		return nil
	}

	var previous map[string]any
	if job.PreviousJobID != "" {
		prev, err := s.Repo.GetByID(ctx, job.PreviousJobID)
		if err != nil {
			s.fail(ctx, job, ErrorCodeStorage, fmt.Errorf("previous job lookup id=%s: %w", job.PreviousJobID, err), &startedAt, nil)
			return nil
		}
		previous = prev.Result
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.trackRunning(job.ID, cancel)
	defer s.untrackRunning(job.ID)

	onProgress := s.progressRecorder(ctx, job.ID, cancel)
	outcome := s.runWithRetry(runCtx, job, plan, onProgress)
	if !outcome.Success {
		stats := outcome.Stats
		s.fail(ctx, job, failureCode(outcome.Err), outcome.Err, &startedAt, &stats)
		return nil
	}
	s.complete(ctx, job, outcome, previous, startedAt)
	return nil
}

// progressRecorder persists engine events onto the job. When the job has
// reached a terminal state the event is dropped and the run is cancelled.
func (s *Service) progressRecorder(ctx context.Context, jobID string, cancel context.CancelFunc) agent.ProgressFunc {
	return func(ev agent.ProgressEvent) {
		if ev.Type == agent.EventToolCall {
			metrics.IncAgentToolCalls()
		}
		detail := ev.Detail
		if ev.Tool != "" {
			detail = ev.Tool + ": " + detail
		}
		entry := LogEntry{Timestamp: ev.Timestamp, Type: string(ev.Type), Detail: detail}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = s.clock()
		}
		_, err := s.Repo.Update(ctx, jobID, func(j *Job) error {
			if j.Status.Terminal() {
				return errJobFinished
			}
			j.Logs = appendLog(j.Logs, entry)
			j.UpdatedAt = s.clock()
			return nil
		})
		switch {
		case errors.Is(err, errJobFinished):
			cancel()
		case err != nil:
			telemetry.Warn("job.progress_write_failed", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"job_id":     jobID,
				"error":      sanitizeError(err),
			})
		}
	}
}

func (s *Service) complete(ctx context.Context, job Job, outcome agent.Outcome, previous map[string]any, startedAt time.Time) {
	result := decodeOutput(outcome.Output)
	change := changes.Detect(result, previous)
	stats := outcome.Stats
	completedAt := s.clock()

	updated, err := s.Repo.Update(ctx, job.ID, func(j *Job) error {
		if j.Status.Terminal() {
			return errJobFinished
		}
		j.Status = StatusComplete
		j.Result = result
		j.Stats = &stats
		j.CompletedAt = &completedAt
		j.ChangeDetection = &change
		j.Error = ""
		j.ErrorCode = ""
		j.UpdatedAt = completedAt
		return nil
	})
	if errors.Is(err, errJobFinished) {
		s.logDiscarded(ctx, job)
		return
	}
	if err != nil {
		s.fail(ctx, job, ErrorCodeStorage, fmt.Errorf("set job result failed: %w", err), &startedAt, &stats)
		return
	}

	metrics.IncJobsCompleted()
	metrics.ObserveJobDurationMs(durationMs(&startedAt, &completedAt))
	s.logStatus(ctx, updated, StatusComplete, "running->complete", map[string]any{
		"duration_ms": durationMs(&startedAt, &completedAt),
		"tool_calls":  stats.ToolCalls,
		"iterations":  stats.Iterations,
		"has_changes": change.HasChanges,
	})
	s.archive(ctx, updated)
}

// fail records a terminal error. It never overwrites a terminal job and
// always writes with a fresh context so cancellation of the run cannot
// lose the failure. The stored job is returned when the write succeeds.
func (s *Service) fail(ctx context.Context, job Job, code string, cause error, startedAt *time.Time, stats *agent.Stats) Job {
	msg := sanitizeError(cause)
	completedAt := s.clock()
	var from Status
	updated, err := s.Repo.Update(context.Background(), job.ID, func(j *Job) error {
		if j.Status.Terminal() {
			return errJobFinished
		}
		from = j.Status
		j.Status = StatusError
		j.Error = msg
		j.ErrorCode = code
		j.Result = nil
		j.CompletedAt = &completedAt
		j.UpdatedAt = completedAt
		if stats != nil {
			st := *stats
			j.Stats = &st
		}
		return nil
	})
	if errors.Is(err, errJobFinished) {
		s.logDiscarded(ctx, job)
		current, getErr := s.Repo.GetByID(context.Background(), job.ID)
		if getErr != nil {
			return job
		}
		return current
	}
	if err != nil {
		telemetry.Error("job.fail_write_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     job.ID,
			"error":      sanitizeError(err),
			"cause":      msg,
		})
		return job
	}

	metrics.IncJobsFailed()
	if startedAt != nil {
		metrics.ObserveJobDurationMs(durationMs(startedAt, &completedAt))
	}
	s.logStatus(ctx, updated, StatusError, string(from)+"->error", map[string]any{
		"duration_ms": durationMs(startedAt, &completedAt),
		"error_code":  code,
		"error":       msg,
	})
	return updated
}

func (s *Service) logStatus(ctx context.Context, job Job, status Status, transition string, extra map[string]any) {
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            job.ID,
		"entity_type":       job.EntityType,
		"entity_id":         job.EntityID,
		"version":           job.Version,
		"attempt":           job.Attempt,
		"status":            status,
		"status_transition": transition,
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("job.status", fields)
}

func (s *Service) logDiscarded(ctx context.Context, job Job) {
	telemetry.Info("job.result_discarded", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"job_id":     job.ID,
		"reason":     "job already terminal",
	})
}

func failureCode(err error) string {
	var provErr *agent.ProviderError
	switch {
	case err == nil:
		return ErrorCodeInternal
	case errors.Is(err, agent.ErrMaxIterations):
		return ErrorCodeMaxIterations
	case agent.IsRateLimited(err):
		return ErrorCodeRateLimited
	case errors.As(err, &provErr):
		return ErrorCodeProvider
	default:
		return ErrorCodeInternal
	}
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func sanitizeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	return util.Truncate(msg, maxErrorLen)
}
