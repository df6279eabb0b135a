// Package designers implements the built-in suggestion policies.
package designers

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
)

// RegisterAll wires the built-in designers into a registry.
func RegisterAll(reg *policy.Registry) {
	reg.RegisterDesigner("random", func(spec domain.DesignerSpec) (policy.Designer, error) {
		return NewRandom(spec), nil
	})
	reg.RegisterDesigner("gp", func(spec domain.DesignerSpec) (policy.Designer, error) {
		return NewGP(spec)
	})
}

// sampler draws feasible values for a search space. It is safe for
// concurrent use; the zero value is not usable, build it with newSampler.
type sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// newSampler seeds the stream. Seed zero falls back to the clock;
// otherwise the stream is offset by the study's trial count so repeat
// evaluations against a grown study do not replay old draws.
func newSampler(seed, offset int64) *sampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	} else {
		seed += offset
	}
	return &sampler{rng: rand.New(rand.NewSource(seed))}
}

// Value draws one feasible assignment for the parameter.
func (s *sampler) Value(p domain.ParameterSpec) domain.Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.Type {
	case domain.ParameterDouble:
		return domain.NumberValue(fromUnit(p, s.rng.Float64()))
	case domain.ParameterInteger:
		lo, hi := int64(p.Min), int64(p.Max)
		return domain.NumberValue(float64(lo + s.rng.Int63n(hi-lo+1)))
	case domain.ParameterCategorical:
		return domain.CategoryValue(p.Categories[s.rng.Intn(len(p.Categories))])
	case domain.ParameterDiscrete:
		return domain.NumberValue(p.Levels[s.rng.Intn(len(p.Levels))])
	}
	return domain.Value{}
}

// Unit draws a point in the unit hypercube, one coordinate per parameter.
func (s *sampler) Unit(n int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := make([]float64, n)
	for i := range u {
		u[i] = s.rng.Float64()
	}
	return u
}

// Norm draws a standard normal sample.
func (s *sampler) Norm() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()
}

// fromUnit maps u in [0,1] onto the parameter's numeric range,
// honoring the scale type. Log scales spread resolution near Min,
// reverse-log near Max.
func fromUnit(p domain.ParameterSpec, u float64) float64 {
	switch p.Scale {
	case domain.ScaleLog:
		return math.Exp(math.Log(p.Min) + u*(math.Log(p.Max)-math.Log(p.Min)))
	case domain.ScaleReverseLog:
		v := math.Exp(math.Log(p.Min) + (1-u)*(math.Log(p.Max)-math.Log(p.Min)))
		return clamp(p.Max+p.Min-v, p.Min, p.Max)
	default:
		return p.Min + u*(p.Max-p.Min)
	}
}

// toUnit is the inverse of fromUnit.
func toUnit(p domain.ParameterSpec, v float64) float64 {
	if p.Max == p.Min {
		return 0
	}
	switch p.Scale {
	case domain.ScaleLog:
		return (math.Log(v) - math.Log(p.Min)) / (math.Log(p.Max) - math.Log(p.Min))
	case domain.ScaleReverseLog:
		mirrored := clamp(p.Max+p.Min-v, p.Min, p.Max)
		return 1 - (math.Log(mirrored)-math.Log(p.Min))/(math.Log(p.Max)-math.Log(p.Min))
	default:
		return (v - p.Min) / (p.Max - p.Min)
	}
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// objectiveValue extracts a trial's objective: the final measurement
// when present, otherwise the last intermediate one.
func objectiveValue(t *domain.Trial, metric string) (float64, bool) {
	if t.Final != nil {
		if v, ok := t.Final.Metrics[metric]; ok {
			return v, true
		}
	}
	if last := t.LastMeasurement(); last != nil {
		if v, ok := last.Metrics[metric]; ok {
			return v, true
		}
	}
	return 0, false
}
