package domain

import (
	"fmt"
	"time"
)

// MetricGoal is the optimization direction of a metric.
type MetricGoal string

const (
	GoalMaximize MetricGoal = "maximize"
	GoalMinimize MetricGoal = "minimize"
)

// MetricSpec describes one metric reported by trials.
type MetricSpec struct {
	Name string     `json:"name" yaml:"name"`
	Goal MetricGoal `json:"goal" yaml:"goal"`
}

// PrunerSpec selects and configures the study's early-stopping policy.
type PrunerSpec struct {
	// Name of a registered pruner. Empty means "never".
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Percentile is the cutoff percentile for the percentile pruner,
	// in (0, 100]. Zero means the pruner default.
	Percentile float64 `json:"percentile,omitempty" yaml:"percentile,omitempty"`

	// Metric overrides which metric the pruner judges trials by.
	// Empty means the study objective.
	Metric string `json:"metric,omitempty" yaml:"metric,omitempty"`

	// MeasurementIndex anchors cutoff computation at a fixed position in
	// each trial's measurement sequence. Nil means each trial is judged
	// at its own latest measurement.
	MeasurementIndex *int `json:"measurement_index,omitempty" yaml:"measurement_index,omitempty"`

	// MinTrials is the minimum number of comparable trials required
	// before the pruner stops anything.
	MinTrials int `json:"min_trials,omitempty" yaml:"min_trials,omitempty"`

	// WarmupSteps exempts a trial's first steps from pruning.
	WarmupSteps int64 `json:"warmup_steps,omitempty" yaml:"warmup_steps,omitempty"`

	// Endpoints are remote policy servers for the "remote" pruner.
	Endpoints []string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// DesignerSpec selects and configures the study's suggestion algorithm.
type DesignerSpec struct {
	// Name of a registered designer. Empty means "random".
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Seed makes suggestion streams reproducible. Zero seeds from time.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// InitialSamples is how many random suggestions model-based
	// designers emit before fitting.
	InitialSamples int `json:"initial_samples,omitempty" yaml:"initial_samples,omitempty"`

	// Candidates is the pool size model-based designers rank per suggestion.
	Candidates int `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	// Acquisition picks the acquisition function for the gp designer:
	// ucb, ei, pi or thompson.
	Acquisition string `json:"acquisition,omitempty" yaml:"acquisition,omitempty"`

	Beta float64 `json:"beta,omitempty" yaml:"beta,omitempty"`
	Xi   float64 `json:"xi,omitempty" yaml:"xi,omitempty"`

	// Endpoints are remote policy servers for the "remote" designer.
	Endpoints []string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// StudySpec is the immutable definition of a study.
type StudySpec struct {
	Parameters []ParameterSpec `json:"parameters" yaml:"parameters"`
	Metrics    []MetricSpec    `json:"metrics" yaml:"metrics"`
	Designer   DesignerSpec    `json:"designer,omitempty" yaml:"designer,omitempty"`
	Pruner     PrunerSpec      `json:"pruner,omitempty" yaml:"pruner,omitempty"`
}

// Objective returns the study's primary metric. Multi-metric studies
// rank by their first metric.
func (s StudySpec) Objective() MetricSpec {
	if len(s.Metrics) == 0 {
		return MetricSpec{}
	}
	return s.Metrics[0]
}

// Parameter looks up a parameter spec by name.
func (s StudySpec) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Validate checks the spec is complete enough to run trials against.
func (s StudySpec) Validate() error {
	if len(s.Parameters) == 0 {
		return fmt.Errorf("study spec has no parameters")
	}
	if len(s.Metrics) == 0 {
		return fmt.Errorf("study spec has no metrics")
	}
	seen := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
	metrics := make(map[string]bool, len(s.Metrics))
	for _, m := range s.Metrics {
		if m.Name == "" {
			return fmt.Errorf("metric name is required")
		}
		if m.Goal != GoalMaximize && m.Goal != GoalMinimize {
			return fmt.Errorf("metric %q: unknown goal %q", m.Name, m.Goal)
		}
		if metrics[m.Name] {
			return fmt.Errorf("duplicate metric %q", m.Name)
		}
		metrics[m.Name] = true
	}
	return nil
}

// StudyState is the lifecycle state of a study.
type StudyState string

const (
	StudyActive    StudyState = "active"
	StudyCompleted StudyState = "completed"
	StudyAborted   StudyState = "aborted"
)

// Study is a named optimization run owning a set of trials.
type Study struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner,omitempty"`
	State     StudyState `json:"state"`
	Spec      StudySpec  `json:"spec"`
	Metadata  Metadata   `json:"metadata,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsActive reports whether the study still accepts trials.
func (s *Study) IsActive() bool {
	return s.State == StudyActive
}

// Clone deep-copies the study. The spec is copied shallowly except for
// its slices; parameter specs themselves are value types.
func (s *Study) Clone() *Study {
	cp := *s
	if s.Spec.Parameters != nil {
		cp.Spec.Parameters = make([]ParameterSpec, len(s.Spec.Parameters))
		copy(cp.Spec.Parameters, s.Spec.Parameters)
	}
	if s.Spec.Metrics != nil {
		cp.Spec.Metrics = make([]MetricSpec, len(s.Spec.Metrics))
		copy(cp.Spec.Metrics, s.Spec.Metrics)
	}
	if s.Spec.Pruner.Endpoints != nil {
		cp.Spec.Pruner.Endpoints = append([]string(nil), s.Spec.Pruner.Endpoints...)
	}
	if s.Spec.Designer.Endpoints != nil {
		cp.Spec.Designer.Endpoints = append([]string(nil), s.Spec.Designer.Endpoints...)
	}
	cp.Metadata = s.Metadata.Clone()
	return &cp
}
