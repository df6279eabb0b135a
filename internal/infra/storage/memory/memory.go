package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
)

// MemoryStorage backs the repositories with plain maps. Every read and
// write goes through Clone so callers never share memory with the store.
type MemoryStorage struct {
	studies map[string]*domain.Study
	trials  map[string]map[int64]*domain.Trial
	seq     map[string]int64
	ops     map[string]*domain.StopOperation
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		studies: make(map[string]*domain.Study),
		trials:  make(map[string]map[int64]*domain.Trial),
		seq:     make(map[string]int64),
		ops:     make(map[string]*domain.StopOperation),
	}
}

// -----------------------------------------------------------------------------
// Study Repository
// -----------------------------------------------------------------------------

type StudyRepo struct {
	store *MemoryStorage
}

func NewStudyRepo(store *MemoryStorage) *StudyRepo {
	return &StudyRepo{store: store}
}

func (r *StudyRepo) Create(ctx context.Context, study *domain.Study) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.studies[study.ID]; ok {
		return storage.ErrStudyExists
	}
	now := time.Now().UTC()
	if study.CreatedAt.IsZero() {
		study.CreatedAt = now
	}
	study.UpdatedAt = study.CreatedAt
	if study.State == "" {
		study.State = domain.StudyActive
	}
	r.store.studies[study.ID] = study.Clone()
	r.store.trials[study.ID] = make(map[int64]*domain.Trial)
	return nil
}

func (r *StudyRepo) Get(ctx context.Context, id string) (*domain.Study, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.studies[id]
	if !ok {
		return nil, storage.ErrStudyNotFound
	}
	return s.Clone(), nil
}

func (r *StudyRepo) List(ctx context.Context) ([]*domain.Study, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Study, 0, len(r.store.studies))
	for _, s := range r.store.studies {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *StudyRepo) UpdateState(ctx context.Context, id string, state domain.StudyState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.studies[id]
	if !ok {
		return storage.ErrStudyNotFound
	}
	s.State = state
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *StudyRepo) SetMetadata(ctx context.Context, id string, md domain.Metadata) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.studies[id]
	if !ok {
		return storage.ErrStudyNotFound
	}
	s.Metadata = md.Clone()
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *StudyRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.studies[id]; !ok {
		return storage.ErrStudyNotFound
	}
	delete(r.store.studies, id)
	delete(r.store.trials, id)
	delete(r.store.seq, id)
	for opID, op := range r.store.ops {
		if op.StudyID == id {
			delete(r.store.ops, opID)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Trial Repository
// -----------------------------------------------------------------------------

type TrialRepo struct {
	store *MemoryStorage
}

func NewTrialRepo(store *MemoryStorage) *TrialRepo {
	return &TrialRepo{store: store}
}

func (r *TrialRepo) Create(ctx context.Context, trial *domain.Trial) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	trials, ok := r.store.trials[trial.StudyID]
	if !ok {
		return storage.ErrStudyNotFound
	}
	r.store.seq[trial.StudyID]++
	trial.ID = r.store.seq[trial.StudyID]
	now := time.Now().UTC()
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = now
	}
	trial.UpdatedAt = trial.CreatedAt
	if trial.State == "" {
		trial.State = domain.TrialRequested
	}
	trials[trial.ID] = trial.Clone()
	return nil
}

func (r *TrialRepo) Get(ctx context.Context, studyID string, trialID int64) (*domain.Trial, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.trials[studyID][trialID]
	if !ok {
		return nil, storage.ErrTrialNotFound
	}
	return t.Clone(), nil
}

func (r *TrialRepo) List(ctx context.Context, studyID string, states ...domain.TrialState) ([]*domain.Trial, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Trial
	for _, t := range r.store.trials[studyID] {
		if matchState(t.State, states) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *TrialRepo) Count(ctx context.Context, studyID string, states ...domain.TrialState) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, t := range r.store.trials[studyID] {
		if matchState(t.State, states) {
			n++
		}
	}
	return n, nil
}

func (r *TrialRepo) AddMeasurement(ctx context.Context, studyID string, trialID int64, m domain.Measurement) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.trials[studyID][trialID]
	if !ok {
		return storage.ErrTrialNotFound
	}
	t.Measurements = append(t.Measurements, m.Clone())
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TrialRepo) UpdateState(ctx context.Context, studyID string, trialID int64, from, to domain.TrialState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.trials[studyID][trialID]
	if !ok {
		return storage.ErrTrialNotFound
	}
	if t.State != from {
		return storage.ErrStateConflict
	}
	t.State = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TrialRepo) Complete(ctx context.Context, studyID string, trialID int64, to domain.TrialState, final *domain.Measurement, reason string) error {
	if !to.Terminal() {
		return fmt.Errorf("complete to non-terminal state %s", to)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.trials[studyID][trialID]
	if !ok {
		return storage.ErrTrialNotFound
	}
	if !domain.CanTransition(t.State, to) {
		return storage.ErrStateConflict
	}
	t.State = to
	if final != nil {
		f := final.Clone()
		t.Final = &f
	}
	t.InfeasibleReason = reason
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.CompletedAt = now
	return nil
}

func (r *TrialRepo) SetMetadata(ctx context.Context, studyID string, trialID int64, md domain.Metadata) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.trials[studyID][trialID]
	if !ok {
		return storage.ErrTrialNotFound
	}
	t.Metadata = md.Clone()
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TrialRepo) ListStale(ctx context.Context, state domain.TrialState, olderThan time.Time) ([]*domain.Trial, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Trial
	for _, trials := range r.store.trials {
		for _, t := range trials {
			if t.State == state && t.UpdatedAt.Before(olderThan) {
				out = append(out, t.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudyID != out[j].StudyID {
			return out[i].StudyID < out[j].StudyID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchState(s domain.TrialState, states []domain.TrialState) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Operation Repository
// -----------------------------------------------------------------------------

type OperationRepo struct {
	store *MemoryStorage
}

func NewOperationRepo(store *MemoryStorage) *OperationRepo {
	return &OperationRepo{store: store}
}

func (r *OperationRepo) Put(ctx context.Context, op *domain.StopOperation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	cp := *op
	r.store.ops[op.ID] = &cp
	return nil
}

func (r *OperationRepo) Get(ctx context.Context, id string) (*domain.StopOperation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	op, ok := r.store.ops[id]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	cp := *op
	return &cp, nil
}

func (r *OperationRepo) Latest(ctx context.Context, studyID string) (*domain.StopOperation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.StopOperation
	for _, op := range r.store.ops {
		if op.StudyID != studyID {
			continue
		}
		if latest == nil || op.CreatedAt.After(latest.CreatedAt) {
			latest = op
		}
	}
	if latest == nil {
		return nil, storage.ErrOperationNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *OperationRepo) List(ctx context.Context, studyID string) ([]*domain.StopOperation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.StopOperation
	for _, op := range r.store.ops {
		if op.StudyID == studyID {
			cp := *op
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *OperationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, op := range r.store.ops {
		if op.Expired(now) {
			delete(r.store.ops, id)
			n++
		}
	}
	return n, nil
}
