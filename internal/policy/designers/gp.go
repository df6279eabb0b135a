package designers

import (
	"context"
	"fmt"
	"math"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
)

const (
	// DefaultInitialSamples is how many observations the model needs
	// before it stops falling back to random draws.
	DefaultInitialSamples = 10

	// DefaultCandidates is the pool size ranked per suggestion.
	DefaultCandidates = 50

	DefaultBeta = 2.0
	DefaultXi   = 0.01
)

// GP is a Bayesian designer: a Gaussian-process surrogate fitted to
// completed trials, with an acquisition function ranking random
// candidate points. The search space must be all-double; mixed spaces
// are rejected at suggest time the way flat-space designers reject
// unsupported studies.
type GP struct {
	seed           int64
	initialSamples int
	candidates     int
	acquire        acquisitionFunc
	acqName        string
	beta           float64
	xi             float64
}

// NewGP builds the designer from a study's designer spec.
func NewGP(spec domain.DesignerSpec) (*GP, error) {
	g := &GP{
		seed:           spec.Seed,
		initialSamples: spec.InitialSamples,
		candidates:     spec.Candidates,
		acqName:        spec.Acquisition,
		beta:           spec.Beta,
		xi:             spec.Xi,
	}
	if g.initialSamples == 0 {
		g.initialSamples = DefaultInitialSamples
	}
	if g.candidates == 0 {
		g.candidates = DefaultCandidates
	}
	if g.beta == 0 {
		g.beta = DefaultBeta
	}
	if g.xi == 0 {
		g.xi = DefaultXi
	}
	if g.acqName == "" {
		g.acqName = "ucb"
	}
	switch g.acqName {
	case "ucb":
		g.acquire = ucb
	case "ei":
		g.acquire = expectedImprovement
	case "pi":
		g.acquire = probabilityOfImprovement
	case "thompson":
		g.acquire = thompsonSampling
	default:
		return nil, fmt.Errorf("unknown acquisition function %q", spec.Acquisition)
	}
	return g, nil
}

func (g *GP) Name() string { return "gp" }

// Suggest fits the surrogate on succeeded trials and proposes the
// candidates with the best acquisition values. With fewer observations
// than the initial-sample budget it degrades to random draws so young
// studies still get suggestions.
func (g *GP) Suggest(ctx context.Context, sup policy.Supporter, req policy.SuggestRequest) ([]policy.Suggestion, error) {
	spec, err := sup.StudySpec(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("load study spec: %w", err)
	}
	for _, p := range spec.Parameters {
		if p.Type != domain.ParameterDouble {
			return nil, fmt.Errorf("gp designer requires an all-double search space, parameter %q is %s", p.Name, p.Type)
		}
	}
	objective := spec.Objective()
	if objective.Name == "" {
		return nil, fmt.Errorf("study %s has no objective metric", req.StudyID)
	}

	trials, err := sup.ListTrials(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}

	smp := newSampler(g.seed, int64(len(trials)))

	// Fit on succeeded trials. Internally the model always minimizes,
	// so maximize studies contribute negated observations.
	model := newSurrogate()
	best := math.MaxFloat64
	for i := range trials {
		if trials[i].State != domain.TrialSucceeded {
			continue
		}
		v, ok := objectiveValue(&trials[i], objective.Name)
		if !ok {
			continue
		}
		x, ok := unitPoint(spec, trials[i].Parameters)
		if !ok {
			continue
		}
		y := v
		if objective.Goal == domain.GoalMaximize {
			y = -v
		}
		model.Observe(x, y)
		if y < best {
			best = y
		}
	}

	if model.Len() < g.initialSamples {
		random := NewRandom(domain.DesignerSpec{Seed: g.seed})
		out, err := random.Suggest(ctx, sup, req)
		for i := range out {
			out[i].Rationale = fmt.Sprintf("random warmup %d/%d observations", model.Len(), g.initialSamples)
		}
		return out, err
	}

	params := acquisitionParams{best: best, beta: g.beta, xi: g.xi, smp: smp}
	out := make([]policy.Suggestion, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		var chosen []float64
		bestAcq := math.MaxFloat64
		for j := 0; j < g.candidates; j++ {
			candidate := smp.Unit(len(spec.Parameters))
			mean, variance := model.Predict(candidate)
			if acq := g.acquire(mean, variance, params); acq < bestAcq {
				bestAcq = acq
				chosen = candidate
			}
		}

		assignment := make(map[string]domain.Value, len(spec.Parameters))
		for d, p := range spec.Parameters {
			assignment[p.Name] = domain.NumberValue(fromUnit(p, chosen[d]))
		}
		out = append(out, policy.Suggestion{
			Parameters: assignment,
			Rationale: fmt.Sprintf("gp/%s acquisition %.4g over %d candidates, %d observations",
				g.acqName, bestAcq, g.candidates, model.Len()),
		})

		// Pin the pick as a fantasy observation so a multi-suggestion
		// batch spreads out instead of returning near-duplicates.
		mean, _ := model.Predict(chosen)
		model.Observe(chosen, mean)
	}
	return out, nil
}

// unitPoint maps a trial's assignment into the unit hypercube, in
// search-space order. Trials missing a parameter are skipped.
func unitPoint(spec domain.StudySpec, assignment map[string]domain.Value) ([]float64, bool) {
	x := make([]float64, len(spec.Parameters))
	for i, p := range spec.Parameters {
		v, ok := assignment[p.Name]
		if !ok || v.Kind != domain.ValueNumber {
			return nil, false
		}
		x[i] = clamp(toUnit(p, v.Number), 0, 1)
	}
	return x, true
}

// surrogate is a kernel-weighted Gaussian-process regressor over unit
// coordinates, centered on the mean observation so predictions far from
// the data revert to it. The RBF width is fixed at 0.2, which suits
// inputs normalized to the unit hypercube.
type surrogate struct {
	x     [][]float64
	y     []float64
	sigma float64
}

func newSurrogate() *surrogate {
	return &surrogate{sigma: 0.2}
}

func (s *surrogate) Len() int { return len(s.x) }

// Observe adds a training point. The input is copied.
func (s *surrogate) Observe(x []float64, y float64) {
	cp := make([]float64, len(x))
	copy(cp, x)
	s.x = append(s.x, cp)
	s.y = append(s.y, y)
}

// Predict estimates the objective and its uncertainty at x.
// Without observations it returns a flat prior.
func (s *surrogate) Predict(x []float64) (mean, variance float64) {
	if len(s.x) == 0 {
		return 0, 1
	}

	var ybar float64
	for _, v := range s.y {
		ybar += v
	}
	ybar /= float64(len(s.y))

	k := make([]float64, len(s.x))
	for i := range s.x {
		k[i] = s.kernel(x, s.x[i])
	}

	var sum float64
	for i := range s.x {
		sum += k[i] * (s.y[i] - ybar)
	}
	mean = ybar + sum/float64(len(s.x))

	variance = 1.0
	for i := range s.x {
		for j := range s.x {
			variance -= k[i] * k[j] / float64(len(s.x))
		}
	}
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// kernel is the RBF similarity between two points.
func (s *surrogate) kernel(x1, x2 []float64) float64 {
	var sum float64
	for i := range x1 {
		diff := x1[i] - x2[i]
		sum += diff * diff
	}
	return math.Exp(-sum / (2 * s.sigma * s.sigma))
}

// acquisitionFunc scores a candidate; lower is better (the model
// minimizes internally).
type acquisitionFunc func(mean, variance float64, p acquisitionParams) float64

type acquisitionParams struct {
	best float64
	beta float64
	xi   float64
	smp  *sampler
}

// ucb is the lower confidence bound: optimistic under uncertainty.
func ucb(mean, variance float64, p acquisitionParams) float64 {
	return mean - p.beta*math.Sqrt(variance)
}

// expectedImprovement scores by how much below the incumbent the
// candidate is expected to land, negated so lower stays better.
func expectedImprovement(mean, variance float64, p acquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if mean < p.best-p.xi {
			return -(p.best - p.xi - mean)
		}
		return 0
	}
	z := (p.best - p.xi - mean) / sigma
	return -((p.best-p.xi-mean)*normalCDF(z) + sigma*normalPDF(z))
}

// probabilityOfImprovement scores by the chance of beating the
// incumbent by at least xi, negated so lower stays better.
func probabilityOfImprovement(mean, variance float64, p acquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if mean < p.best-p.xi {
			return -1
		}
		return 0
	}
	return -normalCDF((p.best - p.xi - mean) / sigma)
}

// thompsonSampling draws one posterior sample and ranks by it.
func thompsonSampling(mean, variance float64, p acquisitionParams) float64 {
	return mean + math.Sqrt(variance)*p.smp.Norm()
}

// normalCDF is the standard normal cumulative distribution at x.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the standard normal density at x.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}
