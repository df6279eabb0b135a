package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/tuning/metrics"
)

// Recycler cleans up after the stopping machinery: it drops stop
// operations whose recycle window closed, and hands trials stuck in
// stopping back to the policy as active when no client acknowledged
// the stop within the grace period.
type Recycler struct {
	cfg    RecyclerConfig
	ops    storage.OperationRepository
	trials storage.TrialRepository
}

type RecyclerConfig struct {
	// RecyclePeriod mirrors the service's decision recycle window.
	RecyclePeriod time.Duration

	// SweepGrace is how long a trial may sit in stopping before it is
	// reverted.
	SweepGrace time.Duration
}

// NewRecycler creates a new Recycler worker.
func NewRecycler(cfg RecyclerConfig, ops storage.OperationRepository, trials storage.TrialRepository) *Recycler {
	if cfg.RecyclePeriod <= 0 {
		cfg.RecyclePeriod = time.Minute
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = 5 * time.Minute
	}
	return &Recycler{
		cfg:    cfg,
		ops:    ops,
		trials: trials,
	}
}

// Start runs the recycler loop until the context is canceled.
func (r *Recycler) Start(ctx context.Context) {
	// Sweep a few times per recycle window, but never hot-loop.
	interval := min(r.cfg.RecyclePeriod/2, 1*time.Minute)
	interval = max(interval, 1*time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial sweep
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Recycler) sweep(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := r.ops.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("[Recycler] failed to expire stop operations", "error", err)
	} else if expired > 0 {
		metrics.OperationsExpiredTotal.Add(float64(expired))
		slog.Debug("[Recycler] expired stop operations", "count", expired)
	}

	stale, err := r.trials.ListStale(ctx, domain.TrialStopping, now.Add(-r.cfg.SweepGrace))
	if err != nil {
		slog.Error("[Recycler] failed to list stale stopping trials", "error", err)
		return
	}
	for _, t := range stale {
		err := r.trials.UpdateState(ctx, t.StudyID, t.ID, domain.TrialStopping, domain.TrialActive)
		switch {
		case err == nil:
			metrics.TrialsSweptTotal.Inc()
			slog.Info("[Recycler] reverted unacknowledged stopping trial", "study_id", t.StudyID, "trial_id", t.ID)
		case errors.Is(err, storage.ErrStateConflict):
			// The client finally completed it.
		default:
			slog.Error("[Recycler] failed to revert stopping trial", "study_id", t.StudyID, "trial_id", t.ID, "error", err)
		}
	}
}
