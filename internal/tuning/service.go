// Package tuning is the service core: study and trial lifecycle,
// suggestion of new trials through the study's designer, and early
// stopping through the study's pruner with decision recycling.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/policy"
)

var (
	// ErrInvalidStudy is returned when a study definition fails validation.
	ErrInvalidStudy = errors.New("invalid study")

	// ErrInvalidTrial is returned when a trial's parameters fail
	// validation against the study's search space.
	ErrInvalidTrial = errors.New("invalid trial")

	// ErrInvalidMeasurement is returned when a reported measurement
	// fails validation.
	ErrInvalidMeasurement = errors.New("invalid measurement")

	// ErrStudyNotActive is returned when an operation needs an active
	// study and the study is completed or aborted.
	ErrStudyNotActive = errors.New("study is not active")

	// ErrEvaluationInFlight is returned when another caller already
	// holds the study's policy-evaluation lock. The caller should retry;
	// a stop check is then usually served from the recycled operation.
	ErrEvaluationInFlight = errors.New("policy evaluation already in progress")
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultRecyclePeriod  = time.Minute
	DefaultLockTTL        = 30 * time.Second
	DefaultMaxSuggestions = 16
)

// Config wires the service's dependencies and tunables.
type Config struct {
	Studies  storage.StudyRepository
	Trials   storage.TrialRepository
	Ops      storage.OperationRepository
	Cache    OpCache
	Registry *policy.Registry

	// RecyclePeriod is how long a stop operation's decisions are served
	// to repeat checks before the pruner runs again.
	RecyclePeriod time.Duration

	// LockTTL bounds how long one policy evaluation may hold a study's
	// lock before it expires on its own.
	LockTTL time.Duration

	// MaxSuggestions caps how many trials one suggest call may create.
	MaxSuggestions int

	// Lenient tolerates measurement validation failures instead of
	// rejecting them: non-finite metric values are dropped and step
	// regressions logged.
	Lenient bool
}

// Service implements the tuning API over a storage backend.
type Service struct {
	cfg Config
	sup *Supporter
}

// NewService builds the service, filling zero-valued tunables with
// defaults. Cache may be nil; a process-local cache is used then.
func NewService(cfg Config) *Service {
	if cfg.RecyclePeriod <= 0 {
		cfg.RecyclePeriod = DefaultRecyclePeriod
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultMaxSuggestions
	}
	if cfg.Cache == nil {
		cfg.Cache = NewLocalCache()
	}
	return &Service{
		cfg: cfg,
		sup: NewSupporter(cfg.Studies, cfg.Trials),
	}
}

// ----------------------------------------------------------------------------
// Study lifecycle
// ----------------------------------------------------------------------------

// CreateStudy validates and stores a new study. Empty policy names get
// the defaults ("random" designer, "never" pruner) and both policies
// are resolved once so unknown names fail here, not at first use.
func (s *Service) CreateStudy(ctx context.Context, study *domain.Study) error {
	if study.ID == "" {
		study.ID = uuid.NewString()
	}
	if study.Name == "" {
		study.Name = study.ID
	}
	if study.Spec.Designer.Name == "" {
		study.Spec.Designer.Name = "random"
	}
	if study.Spec.Pruner.Name == "" {
		study.Spec.Pruner.Name = "never"
	}
	if err := study.Spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStudy, err)
	}
	if _, err := s.cfg.Registry.NewDesigner(study.Spec.Designer); err != nil {
		return err
	}
	if _, err := s.cfg.Registry.NewPruner(study.Spec.Pruner); err != nil {
		return err
	}
	switch study.State {
	case "":
		study.State = domain.StudyActive
	case domain.StudyActive, domain.StudyCompleted, domain.StudyAborted:
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStudy, study.State)
	}
	if err := s.cfg.Studies.Create(ctx, study); err != nil {
		return err
	}
	slog.Info("Created study", "study_id", study.ID, "designer", study.Spec.Designer.Name, "pruner", study.Spec.Pruner.Name)
	return nil
}

func (s *Service) GetStudy(ctx context.Context, id string) (*domain.Study, error) {
	return s.cfg.Studies.Get(ctx, id)
}

func (s *Service) ListStudies(ctx context.Context) ([]*domain.Study, error) {
	return s.cfg.Studies.List(ctx)
}

// SetStudyState moves a study between active, completed and aborted.
func (s *Service) SetStudyState(ctx context.Context, id string, state domain.StudyState) error {
	switch state {
	case domain.StudyActive, domain.StudyCompleted, domain.StudyAborted:
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStudy, state)
	}
	return s.cfg.Studies.UpdateState(ctx, id, state)
}

// DeleteStudy removes the study with its trials and operations.
func (s *Service) DeleteStudy(ctx context.Context, id string) error {
	if err := s.cfg.Studies.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.cfg.Cache.ClearActiveOperation(ctx, id); err != nil {
		slog.Warn("Failed to clear cached operation", "study_id", id, "error", err)
	}
	return nil
}

// ListOperations returns a study's persisted stop operations, newest
// first.
func (s *Service) ListOperations(ctx context.Context, studyID string) ([]*domain.StopOperation, error) {
	if _, err := s.cfg.Studies.Get(ctx, studyID); err != nil {
		return nil, err
	}
	return s.cfg.Ops.List(ctx, studyID)
}

// activeStudy loads a study and checks it still accepts work.
func (s *Service) activeStudy(ctx context.Context, id string) (*domain.Study, error) {
	study, err := s.cfg.Studies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !study.IsActive() {
		return nil, fmt.Errorf("%w: study %s is %s", ErrStudyNotActive, id, study.State)
	}
	return study, nil
}
