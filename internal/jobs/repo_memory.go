package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	byID     map[string]Job
	byEntity map[EntityKey][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:     make(map[string]Job),
		byEntity: make(map[EntityKey][]string),
	}
}

// Create stores the job.
func (r *MemoryRepo) Create(ctx context.Context, job Job) error {
	return r.CreateMany(ctx, []Job{job})
}

// CreateMany stores all jobs or none when any id already exists.
func (r *MemoryRepo) CreateMany(ctx context.Context, jobs []Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if _, ok := r.byID[job.ID]; ok {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		if _, ok := seen[job.ID]; ok {
			return fmt.Errorf("job %s duplicated in batch", job.ID)
		}
		seen[job.ID] = struct{}{}
	}
	for _, job := range jobs {
		r.byID[job.ID] = cloneJob(job)
		key := job.Key()
		r.byEntity[key] = append(r.byEntity[key], job.ID)
	}
	return nil
}

// GetByID returns a job by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

// Update applies fn to a copy of the job and stores it when fn succeeds.
func (r *MemoryRepo) Update(ctx context.Context, jobID string, fn func(*Job) error) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	job := cloneJob(stored)
	if err := fn(&job); err != nil {
		return Job{}, err
	}
	r.byID[jobID] = cloneJob(job)
	return job, nil
}

// LatestCompleted returns the most recent complete job per entity key.
func (r *MemoryRepo) LatestCompleted(ctx context.Context, keys []EntityKey) (map[EntityKey]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[EntityKey]Job, len(keys))
	for _, key := range keys {
		var latest *Job
		for _, id := range r.byEntity[key] {
			job := r.byID[id]
			if job.Status != StatusComplete {
				continue
			}
			if latest == nil || higherVersion(job, *latest) {
				j := job
				latest = &j
			}
		}
		if latest != nil {
			out[key] = cloneJob(*latest)
		}
	}
	return out, nil
}

// ListByEntity returns matching jobs for an entity, most recent first.
func (r *MemoryRepo) ListByEntity(ctx context.Context, key EntityKey, statuses []Status, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := r.byEntity[key]
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job := r.byID[id]
		if statusIn(job.Status, statuses) {
			jobs = append(jobs, cloneJob(job))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return newer(jobs[i], jobs[j])
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

var _ Repo = (*MemoryRepo)(nil)
