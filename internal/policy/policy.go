// Package policy defines the pluggable decision points of the tuning
// service: pruners, which decide when running trials should stop
// early, and designers, which propose parameters for new trials.
// Implementations read study state through a Supporter instead of
// touching storage directly, so the same policy runs in-process or
// behind a remote endpoint.
package policy

import (
	"context"

	"github.com/pruner-io/pruner/internal/core/domain"
)

// Supporter is the host-side view a policy evaluates against.
type Supporter interface {
	// StudySpec returns the spec of the study under evaluation.
	StudySpec(ctx context.Context, studyID string) (domain.StudySpec, error)

	// ListTrials returns the study's trials, oldest first. With states
	// given, only trials in one of those states are returned.
	ListTrials(ctx context.Context, studyID string, states ...domain.TrialState) ([]domain.Trial, error)

	// CountTrials counts trials without materializing them.
	CountTrials(ctx context.Context, studyID string, states ...domain.TrialState) (int, error)
}

// Pruner decides which trials of a study should halt early. The
// request scope is a hint: a pruner may return decisions for trials
// outside it, and the batch it returns keeps its order downstream.
type Pruner interface {
	Name() string
	Stop(ctx context.Context, sup Supporter, req domain.StopRequest) (domain.StopDecisions, error)
}

// SuggestRequest asks a designer for new parameter assignments.
type SuggestRequest struct {
	StudyID  string `json:"study_id"`
	Count    int    `json:"count"`
	ClientID string `json:"client_id,omitempty"`
}

// Suggestion is one proposed assignment.
type Suggestion struct {
	Parameters map[string]domain.Value `json:"parameters"`

	// Rationale is a short human-readable note on how the designer
	// picked the assignment.
	Rationale string `json:"rationale,omitempty"`
}

// Designer proposes parameters for new trials.
type Designer interface {
	Name() string
	Suggest(ctx context.Context, sup Supporter, req SuggestRequest) ([]Suggestion, error)
}
