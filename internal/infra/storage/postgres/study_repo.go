package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
)

// StudyRepo implements storage.StudyRepository using PostgreSQL.
type StudyRepo struct {
	db *DB
}

// NewStudyRepo creates a new PostgreSQL study repository.
func NewStudyRepo(db *DB) *StudyRepo {
	return &StudyRepo{db: db}
}

type studyRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Owner     string    `db:"owner"`
	State     string    `db:"state"`
	Spec      []byte    `db:"spec"`
	Metadata  []byte    `db:"metadata"`
	TrialSeq  int64     `db:"trial_seq"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r studyRow) toDomain() (*domain.Study, error) {
	s := &domain.Study{
		ID:        r.ID,
		Name:      r.Name,
		Owner:     r.Owner,
		State:     domain.StudyState(r.State),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Spec, &s.Spec); err != nil {
		return nil, fmt.Errorf("failed to decode study spec: %w", err)
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode study metadata: %w", err)
		}
	}
	return s, nil
}

const createStudy = `
INSERT INTO studies (id, name, owner, state, spec, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (id) DO NOTHING`

// Create saves a new study.
func (r *StudyRepo) Create(ctx context.Context, study *domain.Study) error {
	if study.State == "" {
		study.State = domain.StudyActive
	}
	if study.CreatedAt.IsZero() {
		study.CreatedAt = time.Now().UTC()
	}
	study.UpdatedAt = study.CreatedAt

	spec, err := json.Marshal(study.Spec)
	if err != nil {
		return fmt.Errorf("failed to encode study spec: %w", err)
	}
	md, err := marshalMetadata(study.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode study metadata: %w", err)
	}

	res, err := r.db.ExecContext(ctx, createStudy,
		study.ID, study.Name, study.Owner, string(study.State), spec, md, study.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create study: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrStudyExists
	}
	return nil
}

const getStudy = `
SELECT id, name, owner, state, spec, metadata, trial_seq, created_at, updated_at
FROM studies WHERE id = $1`

// Get retrieves a study by ID.
func (r *StudyRepo) Get(ctx context.Context, id string) (*domain.Study, error) {
	var row studyRow
	err := r.db.GetContext(ctx, &row, getStudy, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrStudyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	return row.toDomain()
}

const listStudies = `
SELECT id, name, owner, state, spec, metadata, trial_seq, created_at, updated_at
FROM studies ORDER BY created_at DESC, id`

// List retrieves all studies, newest first.
func (r *StudyRepo) List(ctx context.Context) ([]*domain.Study, error) {
	var rows []studyRow
	if err := r.db.SelectContext(ctx, &rows, listStudies); err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	out := make([]*domain.Study, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

const updateStudyState = `UPDATE studies SET state = $2, updated_at = $3 WHERE id = $1`

// UpdateState moves the study lifecycle state.
func (r *StudyRepo) UpdateState(ctx context.Context, id string, state domain.StudyState) error {
	res, err := r.db.ExecContext(ctx, updateStudyState, id, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update study state: %w", err)
	}
	return oneRowOr(res, storage.ErrStudyNotFound)
}

const setStudyMetadata = `UPDATE studies SET metadata = $2, updated_at = $3 WHERE id = $1`

// SetMetadata replaces the study's metadata.
func (r *StudyRepo) SetMetadata(ctx context.Context, id string, md domain.Metadata) error {
	raw, err := marshalMetadata(md)
	if err != nil {
		return fmt.Errorf("failed to encode study metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, setStudyMetadata, id, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set study metadata: %w", err)
	}
	return oneRowOr(res, storage.ErrStudyNotFound)
}

const deleteStudy = `DELETE FROM studies WHERE id = $1`

// Delete removes a study. Trials and operations go with it via
// ON DELETE CASCADE.
func (r *StudyRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, deleteStudy, id)
	if err != nil {
		return fmt.Errorf("failed to delete study: %w", err)
	}
	return oneRowOr(res, storage.ErrStudyNotFound)
}

// marshalMetadata encodes metadata, normalizing nil to an empty object
// so JSONB queries never meet a JSON null.
func marshalMetadata(md domain.Metadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md)
}

// oneRowOr returns notFound when the statement matched nothing.
func oneRowOr(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
