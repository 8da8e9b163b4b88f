package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salesops-backend/internal/changes"
	"salesops-backend/internal/shared/telemetry"
	"salesops-backend/internal/shared/util"
)

type archivedResult struct {
	JobID           string          `json:"jobId"`
	AnalysisID      string          `json:"analysisId"`
	EntityType      EntityType      `json:"entityType"`
	EntityID        string          `json:"entityId"`
	EntityName      string          `json:"entityName"`
	Version         int             `json:"version"`
	PreviousJobID   string          `json:"previousJobId,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	Result          map[string]any  `json:"result"`
	ChangeDetection *changes.Result `json:"changeDetection,omitempty"`
}

// archiveKey returns analyses/<entityType>/<entityId>/v<version>-<jobId>.json.
func archiveKey(job Job) (string, error) {
	entityID, err := util.KeySegment(job.EntityID)
	if err != nil {
		return "", fmt.Errorf("entity id: %w", err)
	}
	return fmt.Sprintf("analyses/%s/%s/v%d-%s.json", job.EntityType, entityID, job.Version, job.ID), nil
}

// archive copies a completed result to the object store. Failures are logged
// and never change the job.
func (s *Service) archive(ctx context.Context, job Job) {
	if s.Archive == nil {
		return
	}
	key, err := archiveKey(job)
	if err == nil {
		var payload []byte
		payload, err = json.MarshalIndent(archivedResult{
			JobID:           job.ID,
			AnalysisID:      job.AnalysisID,
			EntityType:      job.EntityType,
			EntityID:        job.EntityID,
			EntityName:      job.EntityName,
			Version:         job.Version,
			PreviousJobID:   job.PreviousJobID,
			CompletedAt:     job.CompletedAt,
			Result:          job.Result,
			ChangeDetection: job.ChangeDetection,
		}, "", "  ")
		if err == nil {
			_, err = s.Archive.SaveWithKey(ctx, key, "application/json", bytes.NewReader(payload))
		}
	}
	if err != nil {
		telemetry.Warn("job.archive_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     job.ID,
			"key":        key,
			"error":      sanitizeError(err),
		})
		return
	}
	telemetry.Info("job.archived", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"job_id":     job.ID,
		"key":        key,
	})
}
