package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
)

func testStudy(id string) *domain.Study {
	return &domain.Study{
		ID:   id,
		Name: id,
		Spec: domain.StudySpec{
			Parameters: []domain.ParameterSpec{
				{Name: "lr", Type: domain.ParameterDouble, Min: 1e-4, Max: 1e-1},
			},
			Metrics: []domain.MetricSpec{{Name: "loss", Goal: domain.GoalMinimize}},
		},
	}
}

func mustCreateTrial(t *testing.T, repo *TrialRepo, studyID string, state domain.TrialState) *domain.Trial {
	t.Helper()
	trial := &domain.Trial{StudyID: studyID, State: state}
	if err := repo.Create(context.Background(), trial); err != nil {
		t.Fatalf("Create trial failed: %v", err)
	}
	return trial
}

func TestStudyRepoCreateGet(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewStudyRepo(store)
	ctx := context.Background()

	if err := repo.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, testStudy("s1")); !errors.Is(err, storage.ErrStudyExists) {
		t.Errorf("expected ErrStudyExists, got %v", err)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != domain.StudyActive {
		t.Errorf("expected default state active, got %s", got.State)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be filled")
	}

	// Mutating the returned study must not leak into the store.
	got.Spec.Parameters[0].Name = "mutated"
	again, _ := repo.Get(ctx, "s1")
	if again.Spec.Parameters[0].Name != "lr" {
		t.Error("store shares memory with callers")
	}

	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, storage.ErrStudyNotFound) {
		t.Errorf("expected ErrStudyNotFound, got %v", err)
	}
}

func TestStudyRepoDeleteCascades(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ops := NewOperationRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mustCreateTrial(t, trials, "s1", domain.TrialActive)
	err := ops.Put(ctx, &domain.StopOperation{ID: "op1", StudyID: "s1", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := studies.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := trials.Get(ctx, "s1", 1); !errors.Is(err, storage.ErrTrialNotFound) {
		t.Errorf("expected trial gone, got %v", err)
	}
	if _, err := ops.Get(ctx, "op1"); !errors.Is(err, storage.ErrOperationNotFound) {
		t.Errorf("expected operation gone, got %v", err)
	}
}

func TestTrialRepoDenseIDs(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}
	if err := studies.Create(ctx, testStudy("s2")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		tr := mustCreateTrial(t, trials, "s1", domain.TrialRequested)
		if tr.ID != want {
			t.Errorf("expected trial ID %d, got %d", want, tr.ID)
		}
	}
	// Sequences are per study.
	tr := mustCreateTrial(t, trials, "s2", domain.TrialRequested)
	if tr.ID != 1 {
		t.Errorf("expected s2 sequence to start at 1, got %d", tr.ID)
	}

	err := trials.Create(ctx, &domain.Trial{StudyID: "missing"})
	if !errors.Is(err, storage.ErrStudyNotFound) {
		t.Errorf("expected ErrStudyNotFound for unknown study, got %v", err)
	}
}

func TestTrialRepoListAndCount(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}
	mustCreateTrial(t, trials, "s1", domain.TrialActive)
	mustCreateTrial(t, trials, "s1", domain.TrialSucceeded)
	mustCreateTrial(t, trials, "s1", domain.TrialActive)

	all, err := trials.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 trials, got %d", len(all))
	}
	for i, tr := range all {
		if tr.ID != int64(i+1) {
			t.Errorf("expected trials in ID order, got %d at %d", tr.ID, i)
		}
	}

	active, err := trials.List(ctx, "s1", domain.TrialActive)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active trials, got %d", len(active))
	}

	n, err := trials.Count(ctx, "s1", domain.TrialActive, domain.TrialSucceeded)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected count 3, got %d", n)
	}

	// Unknown studies list empty rather than erroring, like a SQL
	// backend returning zero rows.
	none, err := trials.List(ctx, "missing")
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty list for unknown study, got %v, %v", none, err)
	}
}

func TestTrialRepoMeasurements(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}
	tr := mustCreateTrial(t, trials, "s1", domain.TrialActive)

	m := domain.Measurement{Step: 1, Metrics: map[string]float64{"loss": 0.5}}
	if err := trials.AddMeasurement(ctx, "s1", tr.ID, m); err != nil {
		t.Fatalf("AddMeasurement failed: %v", err)
	}
	m.Metrics["loss"] = 99 // caller mutation must not reach the store

	got, err := trials.Get(ctx, "s1", tr.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Measurements) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(got.Measurements))
	}
	if got.Measurements[0].Metrics["loss"] != 0.5 {
		t.Errorf("expected loss 0.5, got %v", got.Measurements[0].Metrics["loss"])
	}

	err = trials.AddMeasurement(ctx, "s1", 999, m)
	if !errors.Is(err, storage.ErrTrialNotFound) {
		t.Errorf("expected ErrTrialNotFound, got %v", err)
	}
}

func TestTrialRepoUpdateState(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}
	tr := mustCreateTrial(t, trials, "s1", domain.TrialActive)

	if err := trials.UpdateState(ctx, "s1", tr.ID, domain.TrialActive, domain.TrialStopping); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	// Second flip from the stale state loses the race.
	err := trials.UpdateState(ctx, "s1", tr.ID, domain.TrialActive, domain.TrialStopping)
	if !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}

	got, _ := trials.Get(ctx, "s1", tr.ID)
	if got.State != domain.TrialStopping {
		t.Errorf("expected state stopping, got %s", got.State)
	}
}

func TestTrialRepoComplete(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}
	tr := mustCreateTrial(t, trials, "s1", domain.TrialActive)

	final := domain.Measurement{Step: 10, Metrics: map[string]float64{"loss": 0.1}}
	if err := trials.Complete(ctx, "s1", tr.ID, domain.TrialSucceeded, &final, ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	got, _ := trials.Get(ctx, "s1", tr.ID)
	if got.State != domain.TrialSucceeded {
		t.Errorf("expected succeeded, got %s", got.State)
	}
	if got.Final == nil || got.Final.Metrics["loss"] != 0.1 {
		t.Errorf("expected final measurement, got %+v", got.Final)
	}
	if got.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}

	// Terminal states admit nothing further.
	err := trials.Complete(ctx, "s1", tr.ID, domain.TrialStopped, nil, "")
	if !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}

	// Requested trials cannot jump straight to stopped.
	tr2 := mustCreateTrial(t, trials, "s1", domain.TrialRequested)
	err = trials.Complete(ctx, "s1", tr2.ID, domain.TrialStopped, nil, "")
	if !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}

	// Complete only accepts terminal targets.
	if err := trials.Complete(ctx, "s1", tr2.ID, domain.TrialStopping, nil, ""); err == nil {
		t.Error("expected error for non-terminal target")
	}
}

func TestTrialRepoListStale(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	trials := NewTrialRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}
	stale := mustCreateTrial(t, trials, "s1", domain.TrialStopping)
	mustCreateTrial(t, trials, "s1", domain.TrialActive)

	got, err := trials.ListStale(ctx, domain.TrialStopping, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("expected only the stopping trial, got %+v", got)
	}

	got, err = trials.ListStale(ctx, domain.TrialStopping, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no trials older than the past cutoff, got %d", len(got))
	}
}

func TestOperationRepo(t *testing.T) {
	store := NewMemoryStorage()
	studies := NewStudyRepo(store)
	ops := NewOperationRepo(store)
	ctx := context.Background()

	if err := studies.Create(ctx, testStudy("s1")); err != nil {
		t.Fatalf("Create study failed: %v", err)
	}

	now := time.Now().UTC()
	old := &domain.StopOperation{
		ID: "op-old", StudyID: "s1", Policy: "percentile",
		CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(-time.Minute),
	}
	fresh := &domain.StopOperation{
		ID: "op-new", StudyID: "s1", Policy: "percentile",
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	for _, op := range []*domain.StopOperation{old, fresh} {
		if err := ops.Put(ctx, op); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	latest, err := ops.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != "op-new" {
		t.Errorf("expected op-new, got %s", latest.ID)
	}

	list, err := ops.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "op-new" {
		t.Errorf("expected newest first, got %+v", list)
	}

	n, err := ops.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired operation dropped, got %d", n)
	}
	if _, err := ops.Get(ctx, "op-old"); !errors.Is(err, storage.ErrOperationNotFound) {
		t.Errorf("expected op-old gone, got %v", err)
	}
	if _, err := ops.Get(ctx, "op-new"); err != nil {
		t.Errorf("expected op-new kept, got %v", err)
	}

	if _, err := ops.Latest(ctx, "other"); !errors.Is(err, storage.ErrOperationNotFound) {
		t.Errorf("expected ErrOperationNotFound for unknown study, got %v", err)
	}
}
