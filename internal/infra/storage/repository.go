package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
)

var (
	// ErrStudyNotFound is returned when a study doesn't exist.
	ErrStudyNotFound = errors.New("study not found")

	// ErrStudyExists is returned when creating a study whose ID is taken.
	ErrStudyExists = errors.New("study already exists")

	// ErrTrialNotFound is returned when a trial doesn't exist.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrOperationNotFound is returned when a stop operation doesn't exist.
	ErrOperationNotFound = errors.New("stop operation not found")

	// ErrStateConflict is returned when a guarded state update loses the
	// race: the row's current state no longer admits the transition.
	ErrStateConflict = errors.New("trial state conflict")
)

// StudyRepository handles study storage operations
type StudyRepository interface {
	// Create saves a new study. Fails with ErrStudyExists on ID reuse.
	Create(ctx context.Context, study *domain.Study) error

	// Get retrieves a study by ID
	Get(ctx context.Context, id string) (*domain.Study, error)

	// List retrieves all studies, newest first
	List(ctx context.Context) ([]*domain.Study, error)

	// UpdateState moves the study lifecycle state
	UpdateState(ctx context.Context, id string, state domain.StudyState) error

	// SetMetadata replaces the study's metadata
	SetMetadata(ctx context.Context, id string, md domain.Metadata) error

	// Delete removes a study with its trials and operations
	Delete(ctx context.Context, id string) error
}

// TrialRepository handles trial storage operations. Trial IDs are
// dense per study: Create assigns the next ID in the study's sequence.
type TrialRepository interface {
	// Create saves a new trial and fills its ID and timestamps
	Create(ctx context.Context, trial *domain.Trial) error

	// Get retrieves one trial of a study
	Get(ctx context.Context, studyID string, trialID int64) (*domain.Trial, error)

	// List retrieves a study's trials in ID order, optionally
	// filtered by state
	List(ctx context.Context, studyID string, states ...domain.TrialState) ([]*domain.Trial, error)

	// Count returns how many trials the study has, optionally
	// filtered by state
	Count(ctx context.Context, studyID string, states ...domain.TrialState) (int, error)

	// AddMeasurement appends one intermediate measurement
	AddMeasurement(ctx context.Context, studyID string, trialID int64, m domain.Measurement) error

	// UpdateState flips state from->to atomically. Fails with
	// ErrStateConflict when the row is no longer in from.
	UpdateState(ctx context.Context, studyID string, trialID int64, from, to domain.TrialState) error

	// Complete moves the trial into a terminal state with its final
	// measurement. Fails with ErrStateConflict when the current state
	// doesn't admit the transition.
	Complete(ctx context.Context, studyID string, trialID int64, to domain.TrialState, final *domain.Measurement, reason string) error

	// SetMetadata replaces the trial's metadata
	SetMetadata(ctx context.Context, studyID string, trialID int64, md domain.Metadata) error

	// ListStale retrieves trials of any study sitting in state since
	// before olderThan, for lifecycle sweeps
	ListStale(ctx context.Context, state domain.TrialState, olderThan time.Time) ([]*domain.Trial, error)
}

// OperationRepository handles persisted stopping-policy runs.
type OperationRepository interface {
	// Put upserts an operation by ID
	Put(ctx context.Context, op *domain.StopOperation) error

	// Get retrieves an operation by ID
	Get(ctx context.Context, id string) (*domain.StopOperation, error)

	// Latest retrieves the study's most recently created operation
	Latest(ctx context.Context, studyID string) (*domain.StopOperation, error)

	// List retrieves a study's operations, newest first
	List(ctx context.Context, studyID string) ([]*domain.StopOperation, error)

	// DeleteExpired removes operations whose ExpiresAt is before now
	// and returns how many were dropped
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
