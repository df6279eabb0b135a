package tuning

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/infra/storage/memory"
	"github.com/pruner-io/pruner/internal/policy"
	"github.com/pruner-io/pruner/internal/policy/designers"
	"github.com/pruner-io/pruner/internal/policy/pruners"
)

func newTestService(t *testing.T, mutate ...func(*Config)) *Service {
	t.Helper()
	store := memory.NewMemoryStorage()
	reg := policy.NewRegistry()
	pruners.RegisterAll(reg)
	designers.RegisterAll(reg)
	cfg := Config{
		Studies:  memory.NewStudyRepo(store),
		Trials:   memory.NewTrialRepo(store),
		Ops:      memory.NewOperationRepo(store),
		Registry: reg,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewService(cfg)
}

func lossStudy(id string) *domain.Study {
	return &domain.Study{
		ID: id,
		Spec: domain.StudySpec{
			Parameters: []domain.ParameterSpec{
				{Name: "lr", Type: domain.ParameterDouble, Min: 0, Max: 1},
			},
			Metrics: []domain.MetricSpec{
				{Name: "loss", Goal: domain.GoalMinimize},
			},
		},
	}
}

func mustCreateStudy(t *testing.T, svc *Service, study *domain.Study) {
	t.Helper()
	if err := svc.CreateStudy(context.Background(), study); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
}

func mustCreateTrial(t *testing.T, svc *Service, studyID string) *domain.Trial {
	t.Helper()
	trial := &domain.Trial{
		StudyID:    studyID,
		Parameters: map[string]domain.Value{"lr": domain.NumberValue(0.5)},
	}
	if err := svc.CreateTrial(context.Background(), trial); err != nil {
		t.Fatalf("CreateTrial: %v", err)
	}
	return trial
}

func reportLoss(t *testing.T, svc *Service, studyID string, trialID, step int64, loss float64) *domain.Trial {
	t.Helper()
	tr, err := svc.AddMeasurement(context.Background(), studyID, trialID, domain.Measurement{
		Step:    step,
		Metrics: map[string]float64{"loss": loss},
	})
	if err != nil {
		t.Fatalf("AddMeasurement(trial %d, step %d): %v", trialID, step, err)
	}
	return tr
}

func TestCreateStudyDefaults(t *testing.T) {
	svc := newTestService(t)
	study := lossStudy("s1")

	mustCreateStudy(t, svc, study)

	got, err := svc.GetStudy(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetStudy: %v", err)
	}
	if got.State != domain.StudyActive {
		t.Errorf("state = %s, want %s", got.State, domain.StudyActive)
	}
	if got.Spec.Designer.Name != "random" {
		t.Errorf("designer = %q, want random", got.Spec.Designer.Name)
	}
	if got.Spec.Pruner.Name != "never" {
		t.Errorf("pruner = %q, want never", got.Spec.Pruner.Name)
	}
	if got.Name != "s1" {
		t.Errorf("name = %q, want s1", got.Name)
	}

	if err := svc.CreateStudy(context.Background(), lossStudy("s1")); !errors.Is(err, storage.ErrStudyExists) {
		t.Errorf("duplicate create = %v, want ErrStudyExists", err)
	}
}

func TestCreateStudyGeneratesID(t *testing.T) {
	svc := newTestService(t)
	study := lossStudy("")
	mustCreateStudy(t, svc, study)
	if study.ID == "" {
		t.Fatal("expected a generated study ID")
	}
	if study.Name != study.ID {
		t.Errorf("name = %q, want the generated ID %q", study.Name, study.ID)
	}
}

func TestCreateStudyValidation(t *testing.T) {
	svc := newTestService(t)

	noMetrics := lossStudy("bad")
	noMetrics.Spec.Metrics = nil
	if err := svc.CreateStudy(context.Background(), noMetrics); !errors.Is(err, ErrInvalidStudy) {
		t.Errorf("no metrics = %v, want ErrInvalidStudy", err)
	}

	unknown := lossStudy("bad")
	unknown.Spec.Pruner.Name = "nope"
	if err := svc.CreateStudy(context.Background(), unknown); !errors.Is(err, policy.ErrUnknownPolicy) {
		t.Errorf("unknown pruner = %v, want ErrUnknownPolicy", err)
	}

	badState := lossStudy("bad")
	badState.State = domain.StudyState("paused")
	if err := svc.CreateStudy(context.Background(), badState); !errors.Is(err, ErrInvalidStudy) {
		t.Errorf("unknown state = %v, want ErrInvalidStudy", err)
	}
}

func TestSetStudyState(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))

	if err := svc.SetStudyState(context.Background(), "s1", domain.StudyCompleted); err != nil {
		t.Fatalf("SetStudyState: %v", err)
	}
	if err := svc.SetStudyState(context.Background(), "s1", domain.StudyState("paused")); !errors.Is(err, ErrInvalidStudy) {
		t.Errorf("unknown state = %v, want ErrInvalidStudy", err)
	}

	trial := &domain.Trial{
		StudyID:    "s1",
		Parameters: map[string]domain.Value{"lr": domain.NumberValue(0.5)},
	}
	if err := svc.CreateTrial(context.Background(), trial); !errors.Is(err, ErrStudyNotActive) {
		t.Errorf("create trial on completed study = %v, want ErrStudyNotActive", err)
	}
}

func TestCreateTrialValidation(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	ctx := context.Background()

	missing := &domain.Trial{StudyID: "s1"}
	if err := svc.CreateTrial(ctx, missing); !errors.Is(err, ErrInvalidTrial) {
		t.Errorf("missing parameter = %v, want ErrInvalidTrial", err)
	}

	outOfRange := &domain.Trial{
		StudyID:    "s1",
		Parameters: map[string]domain.Value{"lr": domain.NumberValue(2)},
	}
	if err := svc.CreateTrial(ctx, outOfRange); !errors.Is(err, ErrInvalidTrial) {
		t.Errorf("out of range = %v, want ErrInvalidTrial", err)
	}

	unknown := &domain.Trial{
		StudyID: "s1",
		Parameters: map[string]domain.Value{
			"lr":    domain.NumberValue(0.5),
			"extra": domain.NumberValue(1),
		},
	}
	if err := svc.CreateTrial(ctx, unknown); !errors.Is(err, ErrInvalidTrial) {
		t.Errorf("unknown parameter = %v, want ErrInvalidTrial", err)
	}

	active := &domain.Trial{
		StudyID:    "s1",
		State:      domain.TrialActive,
		Parameters: map[string]domain.Value{"lr": domain.NumberValue(0.5)},
	}
	if err := svc.CreateTrial(ctx, active); !errors.Is(err, ErrInvalidTrial) {
		t.Errorf("pre-set state = %v, want ErrInvalidTrial", err)
	}

	trial := mustCreateTrial(t, svc, "s1")
	if trial.ID != 1 {
		t.Errorf("trial ID = %d, want 1", trial.ID)
	}
	if trial.State != domain.TrialRequested {
		t.Errorf("state = %s, want %s", trial.State, domain.TrialRequested)
	}
}

func TestAddMeasurementLifecycle(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	trial := mustCreateTrial(t, svc, "s1")
	ctx := context.Background()

	got := reportLoss(t, svc, "s1", trial.ID, 0, 1.5)
	if got.State != domain.TrialActive {
		t.Errorf("state after first measurement = %s, want %s", got.State, domain.TrialActive)
	}
	if len(got.Measurements) != 1 {
		t.Fatalf("measurements = %d, want 1", len(got.Measurements))
	}

	got = reportLoss(t, svc, "s1", trial.ID, 2, 1.2)
	if len(got.Measurements) != 2 {
		t.Fatalf("measurements = %d, want 2", len(got.Measurements))
	}

	_, err := svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{
		Step:    1,
		Metrics: map[string]float64{"loss": 1.0},
	})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("step regression = %v, want ErrInvalidMeasurement", err)
	}

	_, err = svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{
		Step:    3,
		Metrics: map[string]float64{"loss": math.NaN()},
	})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("NaN metric = %v, want ErrInvalidMeasurement", err)
	}

	_, err = svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{Step: 3})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("empty metrics = %v, want ErrInvalidMeasurement", err)
	}

	if _, err := svc.CompleteTrial(ctx, "s1", trial.ID, domain.TrialSucceeded, nil, ""); err != nil {
		t.Fatalf("CompleteTrial: %v", err)
	}
	_, err = svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{
		Step:    4,
		Metrics: map[string]float64{"loss": 1.0},
	})
	if !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("measurement on finished trial = %v, want ErrStateConflict", err)
	}
}

func TestAddMeasurementLenient(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) { cfg.Lenient = true })
	mustCreateStudy(t, svc, lossStudy("s1"))
	trial := mustCreateTrial(t, svc, "s1")
	ctx := context.Background()

	got, err := svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{
		Step:    5,
		Metrics: map[string]float64{"loss": 1.0, "aux": math.Inf(1)},
	})
	if err != nil {
		t.Fatalf("AddMeasurement: %v", err)
	}
	m := got.LastMeasurement()
	if _, ok := m.Metrics["aux"]; ok {
		t.Error("non-finite metric survived lenient validation")
	}
	if m.Metrics["loss"] != 1.0 {
		t.Errorf("loss = %v, want 1.0", m.Metrics["loss"])
	}

	// Step regressions pass through in lenient mode.
	if _, err := svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{
		Step:    2,
		Metrics: map[string]float64{"loss": 0.9},
	}); err != nil {
		t.Errorf("lenient step regression = %v, want nil", err)
	}

	_, err = svc.AddMeasurement(ctx, "s1", trial.ID, domain.Measurement{
		Step:    6,
		Metrics: map[string]float64{"loss": math.NaN()},
	})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("all metrics non-finite = %v, want ErrInvalidMeasurement", err)
	}
}

func TestCompleteTrialDefaultsFinal(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	trial := mustCreateTrial(t, svc, "s1")
	ctx := context.Background()

	reportLoss(t, svc, "s1", trial.ID, 0, 2.0)
	reportLoss(t, svc, "s1", trial.ID, 1, 1.4)

	got, err := svc.CompleteTrial(ctx, "s1", trial.ID, domain.TrialSucceeded, nil, "")
	if err != nil {
		t.Fatalf("CompleteTrial: %v", err)
	}
	if got.State != domain.TrialSucceeded {
		t.Errorf("state = %s, want %s", got.State, domain.TrialSucceeded)
	}
	if got.Final == nil || got.Final.Metrics["loss"] != 1.4 {
		t.Errorf("final = %+v, want last measurement (loss 1.4)", got.Final)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
}

func TestCompleteTrialValidation(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	trial := mustCreateTrial(t, svc, "s1")
	ctx := context.Background()

	if _, err := svc.CompleteTrial(ctx, "s1", trial.ID, domain.TrialActive, nil, ""); !errors.Is(err, ErrInvalidTrial) {
		t.Errorf("non-terminal target = %v, want ErrInvalidTrial", err)
	}

	// No measurements and no explicit final: nothing to succeed with.
	if _, err := svc.CompleteTrial(ctx, "s1", trial.ID, domain.TrialSucceeded, nil, ""); !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("succeed without measurements = %v, want ErrInvalidMeasurement", err)
	}

	// Even with an explicit final, a requested trial cannot jump
	// straight to succeeded.
	final := &domain.Measurement{Step: 10, Metrics: map[string]float64{"loss": 0.3}}
	if _, err := svc.CompleteTrial(ctx, "s1", trial.ID, domain.TrialSucceeded, final, ""); !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("succeed a requested trial = %v, want ErrStateConflict", err)
	}

	reportLoss(t, svc, "s1", trial.ID, 0, 1.0)
	got, err := svc.CompleteTrial(ctx, "s1", trial.ID, domain.TrialSucceeded, final, "")
	if err != nil {
		t.Fatalf("CompleteTrial with explicit final: %v", err)
	}
	if got.Final == nil || got.Final.Metrics["loss"] != 0.3 {
		t.Errorf("final = %+v, want the explicit measurement (loss 0.3)", got.Final)
	}
}

func TestMarkInfeasible(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	trial := mustCreateTrial(t, svc, "s1")

	got, err := svc.MarkInfeasible(context.Background(), "s1", trial.ID, "oom")
	if err != nil {
		t.Fatalf("MarkInfeasible: %v", err)
	}
	if got.State != domain.TrialInfeasible {
		t.Errorf("state = %s, want %s", got.State, domain.TrialInfeasible)
	}
	if got.Final != nil {
		t.Errorf("final = %+v, want nil for infeasible", got.Final)
	}
	if got.InfeasibleReason != "oom" {
		t.Errorf("reason = %q, want oom", got.InfeasibleReason)
	}
}

func TestStopTrial(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	trial := mustCreateTrial(t, svc, "s1")
	ctx := context.Background()

	// Requested trials have no evaluating client to ask.
	if _, err := svc.StopTrial(ctx, "s1", trial.ID); !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("stop requested trial = %v, want ErrStateConflict", err)
	}

	reportLoss(t, svc, "s1", trial.ID, 0, 1.0)
	got, err := svc.StopTrial(ctx, "s1", trial.ID)
	if err != nil {
		t.Fatalf("StopTrial: %v", err)
	}
	if got.State != domain.TrialStopping {
		t.Errorf("state = %s, want %s", got.State, domain.TrialStopping)
	}

	// Stopping again is a no-op.
	got, err = svc.StopTrial(ctx, "s1", trial.ID)
	if err != nil {
		t.Fatalf("StopTrial twice: %v", err)
	}
	if got.State != domain.TrialStopping {
		t.Errorf("state after repeat = %s, want %s", got.State, domain.TrialStopping)
	}
}

func TestSuggestTrials(t *testing.T) {
	svc := newTestService(t)
	study := lossStudy("s1")
	study.Spec.Designer = domain.DesignerSpec{Name: "random", Seed: 7}
	mustCreateStudy(t, svc, study)

	trials, err := svc.SuggestTrials(context.Background(), policy.SuggestRequest{
		StudyID:  "s1",
		Count:    3,
		ClientID: "worker-1",
	})
	if err != nil {
		t.Fatalf("SuggestTrials: %v", err)
	}
	if len(trials) != 3 {
		t.Fatalf("suggested %d trials, want 3", len(trials))
	}
	for _, tr := range trials {
		if tr.State != domain.TrialRequested {
			t.Errorf("trial %d state = %s, want %s", tr.ID, tr.State, domain.TrialRequested)
		}
		if tr.ClientID != "worker-1" {
			t.Errorf("trial %d client = %q, want worker-1", tr.ID, tr.ClientID)
		}
		v, ok := tr.Parameters["lr"]
		if !ok || v.Number < 0 || v.Number > 1 {
			t.Errorf("trial %d lr = %+v, want in [0, 1]", tr.ID, v)
		}
		if _, ok := tr.Metadata.Get("designer", "rationale"); !ok {
			t.Errorf("trial %d has no designer rationale", tr.ID)
		}
	}
}

func TestSuggestTrialsClampsCount(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) { cfg.MaxSuggestions = 4 })
	mustCreateStudy(t, svc, lossStudy("s1"))
	ctx := context.Background()

	trials, err := svc.SuggestTrials(ctx, policy.SuggestRequest{StudyID: "s1", Count: 100})
	if err != nil {
		t.Fatalf("SuggestTrials: %v", err)
	}
	if len(trials) != 4 {
		t.Errorf("suggested %d trials, want the cap of 4", len(trials))
	}

	trials, err = svc.SuggestTrials(ctx, policy.SuggestRequest{StudyID: "s1"})
	if err != nil {
		t.Fatalf("SuggestTrials: %v", err)
	}
	if len(trials) != 1 {
		t.Errorf("suggested %d trials for zero count, want 1", len(trials))
	}
}

func TestSuggestTrialsLockBusy(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	ctx := context.Background()

	locked, err := svc.cfg.Cache.TryLock(ctx, "s1", svc.cfg.LockTTL)
	if err != nil || !locked {
		t.Fatalf("TryLock = (%v, %v), want acquired", locked, err)
	}
	defer svc.cfg.Cache.Unlock(ctx, "s1")

	if _, err := svc.SuggestTrials(ctx, policy.SuggestRequest{StudyID: "s1"}); !errors.Is(err, ErrEvaluationInFlight) {
		t.Errorf("SuggestTrials under held lock = %v, want ErrEvaluationInFlight", err)
	}
}

func TestDeleteStudy(t *testing.T) {
	svc := newTestService(t)
	mustCreateStudy(t, svc, lossStudy("s1"))
	mustCreateTrial(t, svc, "s1")

	if err := svc.DeleteStudy(context.Background(), "s1"); err != nil {
		t.Fatalf("DeleteStudy: %v", err)
	}
	if _, err := svc.GetStudy(context.Background(), "s1"); !errors.Is(err, storage.ErrStudyNotFound) {
		t.Errorf("GetStudy after delete = %v, want ErrStudyNotFound", err)
	}
	if _, err := svc.ListTrials(context.Background(), "s1"); !errors.Is(err, storage.ErrStudyNotFound) {
		t.Errorf("ListTrials after delete = %v, want ErrStudyNotFound", err)
	}
}
