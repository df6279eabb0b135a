package designers

import (
	"context"
	"fmt"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
)

// Random samples the search space uniformly, one independent draw per
// parameter. Doubles honor the parameter's scale type, so a log-scale
// learning rate is uniform in log space rather than skewed to the top
// of its range.
type Random struct {
	seed int64
}

// NewRandom builds the designer from a study's designer spec.
func NewRandom(spec domain.DesignerSpec) *Random {
	return &Random{seed: spec.Seed}
}

func (r *Random) Name() string { return "random" }

// Suggest draws req.Count assignments.
func (r *Random) Suggest(ctx context.Context, sup policy.Supporter, req policy.SuggestRequest) ([]policy.Suggestion, error) {
	spec, err := sup.StudySpec(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("load study spec: %w", err)
	}
	seen, err := sup.CountTrials(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("count trials: %w", err)
	}

	smp := newSampler(r.seed, int64(seen))
	out := make([]policy.Suggestion, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		params := make(map[string]domain.Value, len(spec.Parameters))
		for _, p := range spec.Parameters {
			params[p.Name] = smp.Value(p)
		}
		out = append(out, policy.Suggestion{
			Parameters: params,
			Rationale:  "uniform random sample",
		})
	}
	return out, nil
}
