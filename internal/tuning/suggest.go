package tuning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
	"github.com/pruner-io/pruner/internal/tuning/metrics"
)

// SuggestTrials runs the study's designer and stores each suggestion
// as a requested trial. One policy evaluation runs per study at a
// time; callers losing the lock race get ErrEvaluationInFlight.
func (s *Service) SuggestTrials(ctx context.Context, req policy.SuggestRequest) ([]*domain.Trial, error) {
	study, err := s.activeStudy(ctx, req.StudyID)
	if err != nil {
		return nil, err
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > s.cfg.MaxSuggestions {
		req.Count = s.cfg.MaxSuggestions
	}
	designer, err := s.cfg.Registry.NewDesigner(study.Spec.Designer)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockStudy(ctx, req.StudyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	suggestions, err := designer.Suggest(ctx, s.sup, req)
	metrics.PolicyLatency.WithLabelValues("suggest", designer.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("designer %s failed: %w", designer.Name(), err)
	}

	trials := make([]*domain.Trial, 0, len(suggestions))
	for _, sug := range suggestions {
		trial := &domain.Trial{
			StudyID:    req.StudyID,
			ClientID:   req.ClientID,
			State:      domain.TrialRequested,
			Parameters: sug.Parameters,
		}
		if sug.Rationale != "" {
			trial.Metadata = trial.Metadata.Set("designer", "rationale", sug.Rationale)
		}
		if err := s.cfg.Trials.Create(ctx, trial); err != nil {
			return trials, err
		}
		trials = append(trials, trial)
	}
	metrics.SuggestionsTotal.WithLabelValues(designer.Name()).Add(float64(len(trials)))
	slog.Info("Suggested trials", "study_id", req.StudyID, "designer", designer.Name(), "count", len(trials))
	return trials, nil
}

// lockStudy takes the study's policy-evaluation lock and returns its
// release func. A cache outage degrades to evaluating without the
// lock rather than refusing service.
func (s *Service) lockStudy(ctx context.Context, studyID string) (func(), error) {
	locked, err := s.cfg.Cache.TryLock(ctx, studyID, s.cfg.LockTTL)
	if err != nil {
		slog.Warn("Study lock unavailable, evaluating without it", "study_id", studyID, "error", err)
		return func() {}, nil
	}
	if !locked {
		return nil, fmt.Errorf("%w: study %s", ErrEvaluationInFlight, studyID)
	}
	return func() {
		if err := s.cfg.Cache.Unlock(ctx, studyID); err != nil {
			slog.Warn("Failed to release study lock", "study_id", studyID, "error", err)
		}
	}, nil
}
