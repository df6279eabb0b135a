package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/tuning/metrics"
)

// ----------------------------------------------------------------------------
// Trial lifecycle
// ----------------------------------------------------------------------------

// CreateTrial stores a client-defined trial in the requested state.
// Parameters must assign every dimension of the study's search space.
func (s *Service) CreateTrial(ctx context.Context, trial *domain.Trial) error {
	study, err := s.activeStudy(ctx, trial.StudyID)
	if err != nil {
		return err
	}
	if err := validateParameters(study.Spec, trial.Parameters); err != nil {
		return err
	}
	switch trial.State {
	case "", domain.TrialRequested:
		trial.State = domain.TrialRequested
	default:
		return fmt.Errorf("%w: trials are created in state %q, not %q", ErrInvalidTrial, domain.TrialRequested, trial.State)
	}
	return s.cfg.Trials.Create(ctx, trial)
}

func (s *Service) GetTrial(ctx context.Context, studyID string, trialID int64) (*domain.Trial, error) {
	return s.cfg.Trials.Get(ctx, studyID, trialID)
}

func (s *Service) ListTrials(ctx context.Context, studyID string, states ...domain.TrialState) ([]*domain.Trial, error) {
	if _, err := s.cfg.Studies.Get(ctx, studyID); err != nil {
		return nil, err
	}
	return s.cfg.Trials.List(ctx, studyID, states...)
}

// AddMeasurement appends one intermediate measurement and returns the
// updated trial. The first measurement moves a requested trial to
// active. Non-finite metric values and step regressions are rejected,
// or tolerated when the service runs lenient.
func (s *Service) AddMeasurement(ctx context.Context, studyID string, trialID int64, m domain.Measurement) (*domain.Trial, error) {
	trial, err := s.cfg.Trials.Get(ctx, studyID, trialID)
	if err != nil {
		return nil, err
	}
	if trial.State.Terminal() {
		return nil, fmt.Errorf("%w: trial %d is %s", storage.ErrStateConflict, trialID, trial.State)
	}
	if m.Step < 0 {
		return nil, fmt.Errorf("%w: negative step %d", ErrInvalidMeasurement, m.Step)
	}
	if len(m.Metrics) == 0 {
		return nil, fmt.Errorf("%w: no metrics reported", ErrInvalidMeasurement)
	}
	for name, v := range m.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if !s.cfg.Lenient {
				return nil, fmt.Errorf("%w: metric %q is not finite", ErrInvalidMeasurement, name)
			}
			slog.Warn("Dropping non-finite metric value", "study_id", studyID, "trial_id", trialID, "metric", name)
			delete(m.Metrics, name)
		}
	}
	if len(m.Metrics) == 0 {
		return nil, fmt.Errorf("%w: no finite metrics reported", ErrInvalidMeasurement)
	}
	if last := trial.LastMeasurement(); last != nil && m.Step < last.Step {
		if !s.cfg.Lenient {
			return nil, fmt.Errorf("%w: step %d below previous step %d", ErrInvalidMeasurement, m.Step, last.Step)
		}
		slog.Warn("Accepting out-of-order step", "study_id", studyID, "trial_id", trialID, "step", m.Step, "previous", last.Step)
	}
	if trial.State == domain.TrialRequested {
		err := s.cfg.Trials.UpdateState(ctx, studyID, trialID, domain.TrialRequested, domain.TrialActive)
		// A concurrent reporter may have activated the trial already.
		if err != nil && !errors.Is(err, storage.ErrStateConflict) {
			return nil, err
		}
	}
	if err := s.cfg.Trials.AddMeasurement(ctx, studyID, trialID, m); err != nil {
		return nil, err
	}
	return s.cfg.Trials.Get(ctx, studyID, trialID)
}

// CompleteTrial moves a trial into a terminal state. A nil final
// measurement defaults to the last intermediate one; infeasible trials
// never carry a final measurement.
func (s *Service) CompleteTrial(ctx context.Context, studyID string, trialID int64, to domain.TrialState, final *domain.Measurement, reason string) (*domain.Trial, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("%w: cannot complete to non-terminal state %q", ErrInvalidTrial, to)
	}
	trial, err := s.cfg.Trials.Get(ctx, studyID, trialID)
	if err != nil {
		return nil, err
	}
	switch {
	case to == domain.TrialInfeasible:
		final = nil
	case final == nil:
		final = trial.LastMeasurement()
		if final == nil && to == domain.TrialSucceeded {
			return nil, fmt.Errorf("%w: trial %d has no measurements to finalize", ErrInvalidMeasurement, trialID)
		}
	}
	if err := s.cfg.Trials.Complete(ctx, studyID, trialID, to, final, reason); err != nil {
		return nil, err
	}
	metrics.TrialsCompletedTotal.WithLabelValues(string(to)).Inc()
	return s.cfg.Trials.Get(ctx, studyID, trialID)
}

// MarkInfeasible completes a trial whose parameters could not be
// evaluated.
func (s *Service) MarkInfeasible(ctx context.Context, studyID string, trialID int64, reason string) (*domain.Trial, error) {
	return s.CompleteTrial(ctx, studyID, trialID, domain.TrialInfeasible, nil, reason)
}

// StopTrial asks the evaluating client to halt a trial, outside of any
// stopping policy. Already-stopping trials are left as they are.
func (s *Service) StopTrial(ctx context.Context, studyID string, trialID int64) (*domain.Trial, error) {
	trial, err := s.cfg.Trials.Get(ctx, studyID, trialID)
	if err != nil {
		return nil, err
	}
	if trial.State == domain.TrialStopping {
		return trial, nil
	}
	if !domain.CanTransition(trial.State, domain.TrialStopping) {
		return nil, fmt.Errorf("%w: cannot stop trial in state %s", storage.ErrStateConflict, trial.State)
	}
	if err := s.cfg.Trials.UpdateState(ctx, studyID, trialID, trial.State, domain.TrialStopping); err != nil {
		return nil, err
	}
	return s.cfg.Trials.Get(ctx, studyID, trialID)
}

// validateParameters checks a full assignment against the search space.
func validateParameters(spec domain.StudySpec, params map[string]domain.Value) error {
	for _, p := range spec.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %q", ErrInvalidTrial, p.Name)
		}
		if !p.InRange(v) {
			return fmt.Errorf("%w: parameter %q value %s out of range", ErrInvalidTrial, p.Name, v)
		}
	}
	for name := range params {
		if _, ok := spec.Parameter(name); !ok {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidTrial, name)
		}
	}
	return nil
}
