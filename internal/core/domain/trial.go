package domain

import "time"

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	// TrialRequested is a trial created by a client with fixed
	// parameters, not yet picked up by a worker.
	TrialRequested TrialState = "requested"

	// TrialActive is a trial currently being evaluated.
	TrialActive TrialState = "active"

	// TrialStopping marks a trial the stopping policy decided to halt.
	// The evaluating client is expected to complete it promptly.
	TrialStopping TrialState = "stopping"

	TrialSucceeded  TrialState = "succeeded"
	TrialInfeasible TrialState = "infeasible"
	TrialStopped    TrialState = "stopped"
)

// Terminal reports whether the state admits no further transitions.
func (s TrialState) Terminal() bool {
	switch s {
	case TrialSucceeded, TrialInfeasible, TrialStopped:
		return true
	}
	return false
}

// Measurement is one intermediate evaluation reported by a trial.
type Measurement struct {
	// Step is the client's progress marker (epoch, batch, ...).
	// Steps must not decrease within a trial.
	Step int64 `json:"step"`

	ElapsedSecs float64            `json:"elapsed_secs,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Trial is one parameter assignment under evaluation.
type Trial struct {
	StudyID  string `json:"study_id"`
	ID       int64  `json:"id"`
	ClientID string `json:"client_id,omitempty"`

	State      TrialState       `json:"state"`
	Parameters map[string]Value `json:"parameters"`

	// Measurements is the intermediate series, in report order.
	Measurements []Measurement `json:"measurements,omitempty"`

	// Final is the terminal measurement set on completion.
	Final *Measurement `json:"final,omitempty"`

	// InfeasibleReason explains an infeasible completion.
	InfeasibleReason string `json:"infeasible_reason,omitempty"`

	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// LastMeasurement returns the most recent intermediate measurement,
// or nil if none were reported.
func (t *Trial) LastMeasurement() *Measurement {
	if len(t.Measurements) == 0 {
		return nil
	}
	return &t.Measurements[len(t.Measurements)-1]
}

// MetricAt returns the named metric at a measurement index. The second
// result is false when the trial has fewer measurements or the metric
// is absent at that index.
func (t *Trial) MetricAt(metric string, index int) (float64, bool) {
	if index < 0 || index >= len(t.Measurements) {
		return 0, false
	}
	v, ok := t.Measurements[index].Metrics[metric]
	return v, ok
}

// Evaluating reports whether a worker is still running the trial.
func (t *Trial) Evaluating() bool {
	return t.State == TrialActive || t.State == TrialStopping
}

// Clone deep-copies the trial so callers can hand copies across
// goroutine boundaries.
func (t *Trial) Clone() *Trial {
	cp := *t
	if t.Parameters != nil {
		cp.Parameters = make(map[string]Value, len(t.Parameters))
		for k, v := range t.Parameters {
			cp.Parameters[k] = v
		}
	}
	if t.Measurements != nil {
		cp.Measurements = make([]Measurement, len(t.Measurements))
		for i, m := range t.Measurements {
			cp.Measurements[i] = m.Clone()
		}
	}
	if t.Final != nil {
		f := t.Final.Clone()
		cp.Final = &f
	}
	cp.Metadata = t.Metadata.Clone()
	return &cp
}

// Clone deep-copies the measurement.
func (m Measurement) Clone() Measurement {
	cp := m
	if m.Metrics != nil {
		cp.Metrics = make(map[string]float64, len(m.Metrics))
		for k, v := range m.Metrics {
			cp.Metrics[k] = v
		}
	}
	return cp
}
