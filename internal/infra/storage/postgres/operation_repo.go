package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
)

// OperationRepo implements storage.OperationRepository using PostgreSQL.
// The request's trial scope is mirrored into a BIGINT[] column so
// operational queries can find runs touching a trial without opening
// the JSONB payload.
type OperationRepo struct {
	db *DB
}

// NewOperationRepo creates a new PostgreSQL operation repository.
func NewOperationRepo(db *DB) *OperationRepo {
	return &OperationRepo{db: db}
}

type operationRow struct {
	ID        string    `db:"id"`
	StudyID   string    `db:"study_id"`
	Policy    string    `db:"policy"`
	Request   []byte    `db:"request"`
	Decisions []byte    `db:"decisions"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

const operationColumns = `id, study_id, policy, request, decisions, created_at, expires_at`

func (r operationRow) toDomain() (*domain.StopOperation, error) {
	op := &domain.StopOperation{
		ID:        r.ID,
		StudyID:   r.StudyID,
		Policy:    r.Policy,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
	if err := json.Unmarshal(r.Request, &op.Request); err != nil {
		return nil, fmt.Errorf("failed to decode operation request: %w", err)
	}
	if err := json.Unmarshal(r.Decisions, &op.Decisions); err != nil {
		return nil, fmt.Errorf("failed to decode operation decisions: %w", err)
	}
	return op, nil
}

const putOperation = `
INSERT INTO stop_operations (id, study_id, policy, trial_ids, request, decisions, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET decisions = EXCLUDED.decisions, expires_at = EXCLUDED.expires_at`

// Put upserts an operation by ID.
func (r *OperationRepo) Put(ctx context.Context, op *domain.StopOperation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	req, err := json.Marshal(op.Request)
	if err != nil {
		return fmt.Errorf("failed to encode operation request: %w", err)
	}
	dec, err := json.Marshal(op.Decisions)
	if err != nil {
		return fmt.Errorf("failed to encode operation decisions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, putOperation,
		op.ID, op.StudyID, op.Policy, pq.Array(op.Request.TrialIDs), req, dec,
		op.CreatedAt, op.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to put operation: %w", err)
	}
	return nil
}

// Get retrieves an operation by ID.
func (r *OperationRepo) Get(ctx context.Context, id string) (*domain.StopOperation, error) {
	var row operationRow
	query := `SELECT ` + operationColumns + ` FROM stop_operations WHERE id = $1`
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return row.toDomain()
}

// Latest retrieves the study's most recently created operation.
func (r *OperationRepo) Latest(ctx context.Context, studyID string) (*domain.StopOperation, error) {
	var row operationRow
	query := `SELECT ` + operationColumns + ` FROM stop_operations
		WHERE study_id = $1 ORDER BY created_at DESC, id LIMIT 1`
	err := r.db.GetContext(ctx, &row, query, studyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest operation: %w", err)
	}
	return row.toDomain()
}

// List retrieves a study's operations, newest first.
func (r *OperationRepo) List(ctx context.Context, studyID string) ([]*domain.StopOperation, error) {
	var rows []operationRow
	query := `SELECT ` + operationColumns + ` FROM stop_operations
		WHERE study_id = $1 ORDER BY created_at DESC, id`
	if err := r.db.SelectContext(ctx, &rows, query, studyID); err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	out := make([]*domain.StopOperation, 0, len(rows))
	for _, row := range rows {
		op, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

const deleteExpiredOps = `DELETE FROM stop_operations WHERE expires_at < $1`

// DeleteExpired removes operations whose recycle window closed before now.
func (r *OperationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredOps, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired operations: %w", err)
	}
	return res.RowsAffected()
}
