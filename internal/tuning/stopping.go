package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/tuning/metrics"
)

// ----------------------------------------------------------------------------
// Early stopping
// ----------------------------------------------------------------------------

// CheckStopping answers which trials of a study should halt. Within the
// recycle window repeat checks are served from the persisted operation
// instead of re-running the pruner, so polling clients share one
// evaluation. A fresh run flips every stopped trial to stopping and
// writes back the policy's metadata before returning.
func (s *Service) CheckStopping(ctx context.Context, req domain.StopRequest) (*domain.StopOperation, error) {
	study, err := s.cfg.Studies.Get(ctx, req.StudyID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Recycle path: the cached operation ID first, then the newest
	// persisted operation. Cache failures only cost a policy run.
	if opID, ok, err := s.cfg.Cache.ActiveOperation(ctx, req.StudyID); err != nil {
		slog.Warn("Operation cache unavailable", "study_id", req.StudyID, "error", err)
	} else if ok {
		op, err := s.cfg.Ops.Get(ctx, opID)
		if err == nil && !op.Expired(now) {
			metrics.RecycledDecisionsTotal.WithLabelValues("cache").Inc()
			return op, nil
		}
		if err != nil && !errors.Is(err, storage.ErrOperationNotFound) {
			return nil, err
		}
	}
	if op, err := s.recycleLatest(ctx, req.StudyID, now); err != nil {
		return nil, err
	} else if op != nil {
		metrics.RecycledDecisionsTotal.WithLabelValues("store").Inc()
		return op, nil
	}

	unlock, err := s.lockStudy(ctx, req.StudyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pruner, err := s.cfg.Registry.NewPruner(study.Spec.Pruner)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	decisions, err := pruner.Stop(ctx, s.sup, req)
	metrics.PolicyLatency.WithLabelValues("stop", pruner.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("pruner %s failed: %w", pruner.Name(), err)
	}
	metrics.EvaluationsTotal.WithLabelValues(pruner.Name()).Inc()

	now = time.Now().UTC()
	op := &domain.StopOperation{
		ID:        uuid.NewString(),
		StudyID:   req.StudyID,
		Policy:    pruner.Name(),
		Request:   req,
		Decisions: decisions,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RecyclePeriod),
	}
	if err := s.cfg.Ops.Put(ctx, op); err != nil {
		// The decisions still apply; the batch just won't recycle.
		slog.Error("Failed to persist stop operation", "study_id", req.StudyID, "op_id", op.ID, "error", err)
	} else if err := s.cfg.Cache.SetActiveOperation(ctx, req.StudyID, op.ID, s.cfg.RecyclePeriod); err != nil {
		slog.Warn("Failed to cache stop operation", "study_id", req.StudyID, "op_id", op.ID, "error", err)
	}

	s.applyDecisions(ctx, study, decisions)
	return op, nil
}

// recycleLatest returns the study's newest persisted operation while it
// is inside its recycle window.
func (s *Service) recycleLatest(ctx context.Context, studyID string, now time.Time) (*domain.StopOperation, error) {
	op, err := s.cfg.Ops.Latest(ctx, studyID)
	if errors.Is(err, storage.ErrOperationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if op.Expired(now) {
		return nil, nil
	}
	return op, nil
}

// applyDecisions writes the policy's metadata back and flips stopped
// trials to stopping. A flip losing the state race is skipped; the
// client already moved the trial on.
func (s *Service) applyDecisions(ctx context.Context, study *domain.Study, decisions domain.StopDecisions) {
	if md := decisions.Metadata.OnStudy; len(md) > 0 {
		if err := s.cfg.Studies.SetMetadata(ctx, study.ID, study.Metadata.Clone().Merge(md)); err != nil {
			slog.Warn("Failed to write study metadata", "study_id", study.ID, "error", err)
		}
	}
	for trialID, md := range decisions.Metadata.OnTrials {
		trial, err := s.cfg.Trials.Get(ctx, study.ID, trialID)
		if err != nil {
			slog.Warn("Skipping metadata for unknown trial", "study_id", study.ID, "trial_id", trialID, "error", err)
			continue
		}
		if err := s.cfg.Trials.SetMetadata(ctx, study.ID, trialID, trial.Metadata.Merge(md)); err != nil {
			slog.Warn("Failed to write trial metadata", "study_id", study.ID, "trial_id", trialID, "error", err)
		}
	}

	seen := make(map[int64]bool, len(decisions.Decisions))
	for _, dec := range decisions.Decisions {
		metrics.StopDecisionsTotal.WithLabelValues(study.Spec.Pruner.Name, verdict(dec.ShouldStop)).Inc()
		if seen[dec.TrialID] {
			slog.Warn("Duplicate decision in batch", "study_id", study.ID, "trial_id", dec.TrialID)
			continue
		}
		seen[dec.TrialID] = true
		if !dec.ShouldStop {
			continue
		}
		err := s.cfg.Trials.UpdateState(ctx, study.ID, dec.TrialID, domain.TrialActive, domain.TrialStopping)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrStateConflict):
			// Already left active.
		case errors.Is(err, storage.ErrTrialNotFound):
			slog.Warn("Policy stopped unknown trial", "study_id", study.ID, "trial_id", dec.TrialID)
		default:
			slog.Error("Failed to flip trial to stopping", "study_id", study.ID, "trial_id", dec.TrialID, "error", err)
		}
	}
}

func verdict(stop bool) string {
	if stop {
		return "stop"
	}
	return "continue"
}
