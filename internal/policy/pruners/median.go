package pruners

import "github.com/pruner-io/pruner/internal/core/domain"

// Median stops trials performing worse than the median of the study.
// It is the percentile pruner pinned at 50, kept as its own name so
// studies read naturally.
type Median struct {
	*Percentile
}

// NewMedian builds the pruner. A Percentile value in the spec is
// ignored; the other knobs apply as usual.
func NewMedian(spec domain.PrunerSpec) (*Median, error) {
	spec.Percentile = 50
	p, err := NewPercentile(spec)
	if err != nil {
		return nil, err
	}
	return &Median{Percentile: p}, nil
}

func (m *Median) Name() string { return "median" }
