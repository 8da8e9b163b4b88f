package jobs

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newSQLiteRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepoRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := Job{
		ID: "job-1", EntityType: EntityCompany, EntityID: "co-1", EntityName: "Globex",
		Status: StatusPending, StartedAt: now, Version: 1, AnalysisID: "a-1", History: []Snapshot{}, UpdatedAt: now,
		RetryConfig: &RetryConfig{MaxRetries: 3, InitialDelayMs: 500},
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := now.Add(time.Minute)
	updated, err := repo.Update(ctx, job.ID, func(j *Job) error {
		j.Status = StatusComplete
		j.CompletedAt = &done
		j.Result = map[string]any{"healthScore": 77.0}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusComplete {
		t.Fatalf("unexpected status %s", updated.Status)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Result["healthScore"] != 77.0 || got.RetryConfig == nil || got.RetryConfig.MaxRetries != 3 {
		t.Fatalf("unexpected job %+v", got)
	}
	if !got.CompletedAt.Equal(done) {
		t.Fatalf("unexpected completedAt %v", got.CompletedAt)
	}
}

func TestSQLiteRepoUpdateAbortLeavesRowUntouched(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.Create(ctx, Job{ID: "job-1", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusComplete, StartedAt: now, CompletedAt: &now, Version: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := repo.Update(ctx, "job-1", func(j *Job) error {
		j.Status = StatusCancelled
		return ErrNotCancellable
	})
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	if got, _ := repo.GetByID(ctx, "job-1"); got.Status != StatusComplete {
		t.Fatalf("aborted update must not persist, got %s", got.Status)
	}
	if _, err := repo.Update(ctx, "missing", func(*Job) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepoLatestCompletedAndList(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) *time.Time {
		t := base.Add(time.Duration(h) * time.Hour)
		return &t
	}

	jobs := []Job{
		{ID: "j1", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusComplete, StartedAt: base, CompletedAt: at(1), Version: 1},
		{ID: "j2", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusError, StartedAt: base, CompletedAt: at(2), Version: 2},
		{ID: "j3", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusComplete, StartedAt: base, CompletedAt: at(3), Version: 2},
		{ID: "j4", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusRunning, StartedAt: *at(4), Version: 3},
		{ID: "j5", EntityType: EntityDeal, EntityID: "d-2", EntityName: "Beta", Status: StatusComplete, StartedAt: base, CompletedAt: at(5), Version: 1},
	}
	if err := repo.CreateMany(ctx, jobs); err != nil {
		t.Fatalf("CreateMany: %v", err)
	}

	latest, err := repo.LatestCompleted(ctx, []EntityKey{
		{EntityType: EntityDeal, EntityID: "d-1"},
		{EntityType: EntityDeal, EntityID: "d-2"},
		{EntityType: EntityContact, EntityID: "c-1"},
	})
	if err != nil {
		t.Fatalf("LatestCompleted: %v", err)
	}
	if len(latest) != 2 || latest[EntityKey{EntityType: EntityDeal, EntityID: "d-1"}].ID != "j3" {
		t.Fatalf("unexpected latest %+v", latest)
	}

	list, err := repo.ListByEntity(ctx, EntityKey{EntityType: EntityDeal, EntityID: "d-1"}, []Status{StatusComplete, StatusError}, 0)
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	if len(list) != 3 || list[0].ID != "j3" || list[1].ID != "j2" || list[2].ID != "j1" {
		t.Fatalf("unexpected order %+v", list)
	}

	limited, err := repo.ListByEntity(ctx, EntityKey{EntityType: EntityDeal, EntityID: "d-1"}, nil, 2)
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "j4" {
		t.Fatalf("unexpected limited list %+v", limited)
	}
}

func TestSQLiteRepoLatestCompletedUsesSingleQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := &SQLiteRepo{db: db}

	keys := make([]EntityKey, 0, MaxBatchSize)
	args := []driver.Value{"complete"}
	for i := 0; i < MaxBatchSize; i++ {
		key := EntityKey{EntityType: EntityDeal, EntityID: fmt.Sprintf("d-%d", i)}
		keys = append(keys, key)
		args = append(args, "deal", key.EntityID)
	}
	doc, err := json.Marshal(Job{ID: "j7", EntityType: EntityDeal, EntityID: "d-7", Status: StatusComplete, Version: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectQuery("ROW_NUMBER\\(\\) OVER").
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(string(doc)))

	got, err := repo.LatestCompleted(context.Background(), keys)
	if err != nil {
		t.Fatalf("LatestCompleted: %v", err)
	}
	if len(got) != 1 || got[EntityKey{EntityType: EntityDeal, EntityID: "d-7"}].Version != 3 {
		t.Fatalf("unexpected result %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestLatestCompletedPrefersHigherVersion(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) *time.Time {
		t := base.Add(time.Duration(h) * time.Hour)
		return &t
	}
	// v2 branched from v1 and finished late, after v3 had already completed.
	jobs := []Job{
		{ID: "v1", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusComplete, StartedAt: base, CompletedAt: at(1), Version: 1},
		{ID: "v3", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusComplete, StartedAt: base, CompletedAt: at(2), Version: 3},
		{ID: "v2", EntityType: EntityDeal, EntityID: "d-1", EntityName: "Acme", Status: StatusComplete, StartedAt: base, CompletedAt: at(5), Version: 2},
	}
	repos := map[string]Repo{
		"memory": NewMemoryRepo(),
		"sqlite": newSQLiteRepo(t),
	}
	for name, repo := range repos {
		repo := repo
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.CreateMany(ctx, jobs); err != nil {
				t.Fatalf("CreateMany: %v", err)
			}
			key := EntityKey{EntityType: EntityDeal, EntityID: "d-1"}
			latest, err := repo.LatestCompleted(ctx, []EntityKey{key})
			if err != nil {
				t.Fatalf("LatestCompleted: %v", err)
			}
			if latest[key].ID != "v3" {
				t.Fatalf("expected v3, got %+v", latest[key])
			}
		})
	}
}
