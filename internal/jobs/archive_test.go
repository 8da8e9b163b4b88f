package jobs

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/shared/storage/object/local"
)

func TestCompletedResultIsArchived(t *testing.T) {
	runner := &countingRunner{outcome: func(int) agent.Outcome { return successOutput(`{"dealScore": 64}`) }}
	svc, _, _ := newTestService(t, runner)
	store := local.New(t.TempDir())
	svc.Archive = store

	job, err := svc.Submit(context.Background(), dealRequest("d-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	key, err := archiveKey(job)
	if err != nil {
		t.Fatalf("archiveKey: %v", err)
	}
	if want := "analyses/deal/d-1/v1-" + job.ID + ".json"; key != want {
		t.Fatalf("unexpected key %q, want %q", key, want)
	}
	rc, err := store.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	var archived archivedResult
	if err := json.Unmarshal(body, &archived); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if archived.JobID != job.ID || archived.Result["dealScore"] != 64.0 {
		t.Fatalf("unexpected archive %+v", archived)
	}
}

func TestArchiveKeyRejectsTraversal(t *testing.T) {
	if _, err := archiveKey(Job{ID: "j", EntityType: EntityDeal, EntityID: "../etc", Version: 1}); err == nil {
		t.Fatalf("expected error for traversal entity id")
	}
}
