package jobs

import "context"

// Repo defines persistence operations for analysis jobs.
type Repo interface {
	Create(ctx context.Context, job Job) error
	// CreateMany stores all jobs or none of them.
	CreateMany(ctx context.Context, jobs []Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	// Update applies fn to the stored job under a per-record lock and persists
	// the result. An error from fn aborts the write and is returned as is.
	Update(ctx context.Context, jobID string, fn func(*Job) error) (Job, error)
	// LatestCompleted returns the most recently completed job per key. Keys
	// without a completed job are absent from the map.
	LatestCompleted(ctx context.Context, keys []EntityKey) (map[EntityKey]Job, error)
	// ListByEntity returns jobs for one entity in the given statuses, most
	// recently completed first. A limit <= 0 means no limit.
	ListByEntity(ctx context.Context, key EntityKey, statuses []Status, limit int) ([]Job, error)
}

func statusIn(status Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// newer orders jobs by completion time, falling back to start time and version.
func newer(a, b Job) bool {
	at, bt := a.StartedAt, b.StartedAt
	if a.CompletedAt != nil {
		at = *a.CompletedAt
	}
	if b.CompletedAt != nil {
		bt = *b.CompletedAt
	}
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Version > b.Version
}

// higherVersion orders completed jobs by version, falling back to completion
// time. The next job's version and history derive from the winner, so a
// late-finishing older version must not displace a newer one.
func higherVersion(a, b Job) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return newer(a, b)
}
