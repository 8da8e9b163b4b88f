package jobs

import (
	"context"
	"errors"
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/shared/metrics"
	"salesops-backend/internal/shared/telemetry"
)

const maxBackoff = 15 * time.Minute

// runWithRetry invokes the runner until it succeeds, fails with a
// non-rate-limit error, or the configured attempts are used up. The job stays
// running across attempts; only attempt and retryConfig.currentRetry move.
func (s *Service) runWithRetry(ctx context.Context, job Job, plan AgentPlan, onProgress agent.ProgressFunc) agent.Outcome {
	maxAttempts := 1
	var initialDelayMs int64
	if job.RetryConfig != nil {
		maxAttempts = job.RetryConfig.MaxRetries
		initialDelayMs = job.RetryConfig.InitialDelayMs
	}
	input := entityContext(job)

	for attempt := 1; ; attempt++ {
		if err := s.markAttempt(ctx, job.ID, attempt); err != nil {
			return agent.Outcome{Err: err}
		}
		outcome := plan.Runner.Run(ctx, plan.Task, input, onProgress)
		if outcome.Success || attempt >= maxAttempts || !agent.IsRateLimited(outcome.Err) {
			return outcome
		}

		delay := backoffDelay(initialDelayMs, attempt)
		if err := s.markRetry(ctx, job.ID, attempt); err != nil {
			return agent.Outcome{Err: err, Stats: outcome.Stats}
		}
		metrics.IncJobRetries()
		telemetry.Info("job.retry", map[string]any{
			"request_id":   requestIDFromContext(ctx),
			"job_id":       job.ID,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"delay_ms":     delay.Milliseconds(),
			"error":        sanitizeError(outcome.Err),
		})
		if err := s.wait(ctx, delay); err != nil {
			return agent.Outcome{Err: err, Stats: outcome.Stats}
		}
	}
}

func (s *Service) markAttempt(ctx context.Context, jobID string, attempt int) error {
	_, err := s.Repo.Update(ctx, jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return errJobFinished
		}
		j.Attempt = attempt
		j.UpdatedAt = s.clock()
		return nil
	})
	if errors.Is(err, errJobFinished) {
		return context.Canceled
	}
	return err
}

func (s *Service) markRetry(ctx context.Context, jobID string, retry int) error {
	_, err := s.Repo.Update(ctx, jobID, func(j *Job) error {
		if j.Status.Terminal() {
			return errJobFinished
		}
		if j.RetryConfig != nil {
			j.RetryConfig.CurrentRetry = retry
		}
		j.UpdatedAt = s.clock()
		return nil
	})
	if errors.Is(err, errJobFinished) {
		return context.Canceled
	}
	return err
}

func (s *Service) wait(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// backoffDelay returns initialDelayMs * 2^(attempt-1), capped at maxBackoff.
func backoffDelay(initialDelayMs int64, attempt int) time.Duration {
	if initialDelayMs <= 0 || attempt < 1 {
		return 0
	}
	if initialDelayMs >= maxBackoff.Milliseconds() {
		return maxBackoff
	}
	delay := time.Duration(initialDelayMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func entityContext(job Job) map[string]any {
	input := map[string]any{
		"entityType": string(job.EntityType),
		"entityId":   job.EntityID,
		"entityName": job.EntityName,
		"version":    job.Version,
	}
	if job.PreviousJobID != "" {
		input["previousJobId"] = job.PreviousJobID
	}
	return input
}
