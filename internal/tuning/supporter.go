package tuning

import (
	"context"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
)

// Supporter exposes study state to policies through the read-only view
// they evaluate against. Policies never touch repositories directly.
type Supporter struct {
	studies storage.StudyRepository
	trials  storage.TrialRepository
}

func NewSupporter(studies storage.StudyRepository, trials storage.TrialRepository) *Supporter {
	return &Supporter{studies: studies, trials: trials}
}

func (s *Supporter) StudySpec(ctx context.Context, studyID string) (domain.StudySpec, error) {
	study, err := s.studies.Get(ctx, studyID)
	if err != nil {
		return domain.StudySpec{}, err
	}
	return study.Spec, nil
}

func (s *Supporter) ListTrials(ctx context.Context, studyID string, states ...domain.TrialState) ([]domain.Trial, error) {
	trials, err := s.trials.List(ctx, studyID, states...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Trial, len(trials))
	for i, t := range trials {
		out[i] = *t
	}
	return out, nil
}

func (s *Supporter) CountTrials(ctx context.Context, studyID string, states ...domain.TrialState) (int, error) {
	return s.trials.Count(ctx, studyID, states...)
}
