package jobs

import (
	"time"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/changes"
)

// EntityType is the kind of CRM record an analysis targets.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityCompany EntityType = "company"
	EntityDeal    EntityType = "deal"
)

// Valid reports whether the entity type is supported.
func (e EntityType) Valid() bool {
	switch e {
	case EntityContact, EntityCompany, EntityDeal:
		return true
	default:
		return false
	}
}

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

const (
	MaxHistory    = 20
	MaxBatchSize  = 50
	MaxLogEntries = 200
)

// MaxInitialDelayMs is the largest accepted initialDelayMs. It equals the
// backoff cap.
const MaxInitialDelayMs = 15 * 60 * 1000

// LogEntry is one persisted progress event.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail"`
}

// RetryConfig is present only on jobs submitted with whole-run retry.
type RetryConfig struct {
	MaxRetries     int   `json:"maxRetries"`
	InitialDelayMs int64 `json:"initialDelayMs"`
	CurrentRetry   int   `json:"currentRetry"`
}

// Snapshot is an immutable copy of a prior lineage member.
type Snapshot struct {
	AnalysisID  string          `json:"analysisId"`
	Result      map[string]any  `json:"result,omitempty"`
	Stats       *agent.Stats    `json:"stats,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Changes     *changes.Result `json:"changes,omitempty"`
}

// EntityKey identifies a lineage.
type EntityKey struct {
	EntityType EntityType
	EntityID   string
}

// Job is one analysis execution record for an entity.
type Job struct {
	ID              string          `json:"id"`
	EntityType      EntityType      `json:"entityType"`
	EntityID        string          `json:"entityId"`
	EntityName      string          `json:"entityName"`
	UserID          string          `json:"userId,omitempty"`
	Status          Status          `json:"status"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	Result          map[string]any  `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	Logs            []LogEntry      `json:"logs,omitempty"`
	Stats           *agent.Stats    `json:"stats,omitempty"`
	Version         int             `json:"version"`
	AnalysisID      string          `json:"analysisId"`
	PreviousJobID   string          `json:"previousJobId,omitempty"`
	History         []Snapshot      `json:"history"`
	ChangeDetection *changes.Result `json:"changeDetection,omitempty"`
	RetryConfig     *RetryConfig    `json:"retryConfig,omitempty"`
	Attempt         int             `json:"attempt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Key returns the lineage key of the job.
func (j Job) Key() EntityKey {
	return EntityKey{EntityType: j.EntityType, EntityID: j.EntityID}
}

func snapshotOf(j Job) Snapshot {
	return Snapshot{
		AnalysisID:  j.AnalysisID,
		Result:      cloneMap(j.Result),
		Stats:       cloneStats(j.Stats),
		CompletedAt: cloneTime(j.CompletedAt),
		UserID:      j.UserID,
		Changes:     cloneChanges(j.ChangeDetection),
	}
}

// seedHistory returns previous history plus a snapshot of previous,
// keeping only the most recent MaxHistory entries.
func seedHistory(previous Job) []Snapshot {
	history := make([]Snapshot, 0, len(previous.History)+1)
	for _, s := range previous.History {
		history = append(history, cloneSnapshot(s))
	}
	history = append(history, snapshotOf(previous))
	if len(history) > MaxHistory {
		history = append([]Snapshot(nil), history[len(history)-MaxHistory:]...)
	}
	return history
}

func appendLog(logs []LogEntry, entry LogEntry) []LogEntry {
	logs = append(logs, entry)
	if len(logs) > MaxLogEntries {
		logs = append([]LogEntry(nil), logs[len(logs)-MaxLogEntries:]...)
	}
	return logs
}

func cloneJob(j Job) Job {
	out := j
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.Result = cloneMap(j.Result)
	out.Stats = cloneStats(j.Stats)
	out.ChangeDetection = cloneChanges(j.ChangeDetection)
	if j.Logs != nil {
		out.Logs = append([]LogEntry(nil), j.Logs...)
	}
	if j.History != nil {
		out.History = make([]Snapshot, len(j.History))
		for i, s := range j.History {
			out.History[i] = cloneSnapshot(s)
		}
	}
	if j.RetryConfig != nil {
		rc := *j.RetryConfig
		out.RetryConfig = &rc
	}
	return out
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Result = cloneMap(s.Result)
	out.Stats = cloneStats(s.Stats)
	out.CompletedAt = cloneTime(s.CompletedAt)
	out.Changes = cloneChanges(s.Changes)
	return out
}

func cloneStats(s *agent.Stats) *agent.Stats {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func cloneChanges(c *changes.Result) *changes.Result {
	if c == nil {
		return nil
	}
	out := *c
	out.ChangedFields = append([]string(nil), c.ChangedFields...)
	out.NewInsights = append([]string(nil), c.NewInsights...)
	out.ResolvedRisks = append([]string(nil), c.ResolvedRisks...)
	out.NewRisks = append([]string(nil), c.NewRisks...)
	out.NewOpportunities = append([]string(nil), c.NewOpportunities...)
	out.ResolvedOpportunities = append([]string(nil), c.ResolvedOpportunities...)
	out.NewActions = append([]string(nil), c.NewActions...)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
