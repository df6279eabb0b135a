package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/infra/storage"
)

// TrialRepo implements storage.TrialRepository using PostgreSQL.
// Trial IDs come from the owning study's trial_seq counter, so they
// are dense per study and stable across restarts.
type TrialRepo struct {
	db *DB
}

// NewTrialRepo creates a new PostgreSQL trial repository.
func NewTrialRepo(db *DB) *TrialRepo {
	return &TrialRepo{db: db}
}

type trialRow struct {
	StudyID          string       `db:"study_id"`
	ID               int64        `db:"id"`
	ClientID         string       `db:"client_id"`
	State            string       `db:"state"`
	Parameters       []byte       `db:"parameters"`
	Measurements     []byte       `db:"measurements"`
	Final            []byte       `db:"final"`
	InfeasibleReason string       `db:"infeasible_reason"`
	Metadata         []byte       `db:"metadata"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
	CompletedAt      sql.NullTime `db:"completed_at"`
}

const trialColumns = `study_id, id, client_id, state, parameters, measurements, final,
	infeasible_reason, metadata, created_at, updated_at, completed_at`

func (r trialRow) toDomain() (*domain.Trial, error) {
	t := &domain.Trial{
		StudyID:          r.StudyID,
		ID:               r.ID,
		ClientID:         r.ClientID,
		State:            domain.TrialState(r.State),
		InfeasibleReason: r.InfeasibleReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Parameters, &t.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode trial parameters: %w", err)
	}
	if len(r.Measurements) > 0 {
		if err := json.Unmarshal(r.Measurements, &t.Measurements); err != nil {
			return nil, fmt.Errorf("failed to decode trial measurements: %w", err)
		}
	}
	if len(r.Final) > 0 {
		var final domain.Measurement
		if err := json.Unmarshal(r.Final, &final); err != nil {
			return nil, fmt.Errorf("failed to decode final measurement: %w", err)
		}
		t.Final = &final
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode trial metadata: %w", err)
		}
	}
	if r.CompletedAt.Valid {
		t.CompletedAt = r.CompletedAt.Time
	}
	return t, nil
}

const nextTrialID = `
UPDATE studies SET trial_seq = trial_seq + 1, updated_at = $2
WHERE id = $1 RETURNING trial_seq`

const insertTrial = `
INSERT INTO trials (study_id, id, client_id, state, parameters, measurements, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

// Create saves a new trial, assigning the next ID in the study's
// sequence. The sequence bump and the insert share one transaction.
func (r *TrialRepo) Create(ctx context.Context, trial *domain.Trial) error {
	if trial.State == "" {
		trial.State = domain.TrialRequested
	}
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = time.Now().UTC()
	}
	trial.UpdatedAt = trial.CreatedAt

	params := []byte("{}")
	var err error
	if trial.Parameters != nil {
		if params, err = json.Marshal(trial.Parameters); err != nil {
			return fmt.Errorf("failed to encode trial parameters: %w", err)
		}
	}
	measurements := []byte("[]")
	if len(trial.Measurements) > 0 {
		if measurements, err = json.Marshal(trial.Measurements); err != nil {
			return fmt.Errorf("failed to encode trial measurements: %w", err)
		}
	}
	md, err := marshalMetadata(trial.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode trial metadata: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.GetContext(ctx, &id, nextTrialID, trial.StudyID, trial.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrStudyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to advance trial sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, insertTrial,
		trial.StudyID, id, trial.ClientID, string(trial.State), params, measurements, md, trial.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trial: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trial: %w", err)
	}
	trial.ID = id
	return nil
}

// Get retrieves one trial of a study.
func (r *TrialRepo) Get(ctx context.Context, studyID string, trialID int64) (*domain.Trial, error) {
	var row trialRow
	query := `SELECT ` + trialColumns + ` FROM trials WHERE study_id = $1 AND id = $2`
	err := r.db.GetContext(ctx, &row, query, studyID, trialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTrialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial: %w", err)
	}
	return row.toDomain()
}

// List retrieves a study's trials in ID order, optionally filtered by state.
func (r *TrialRepo) List(ctx context.Context, studyID string, states ...domain.TrialState) ([]*domain.Trial, error) {
	var rows []trialRow
	var err error
	if len(states) == 0 {
		query := `SELECT ` + trialColumns + ` FROM trials WHERE study_id = $1 ORDER BY id`
		err = r.db.SelectContext(ctx, &rows, query, studyID)
	} else {
		query := `SELECT ` + trialColumns + ` FROM trials WHERE study_id = $1 AND state = ANY($2::text[]) ORDER BY id`
		err = r.db.SelectContext(ctx, &rows, query, studyID, pq.Array(stateStrings(states)))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	out := make([]*domain.Trial, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Count returns how many trials the study has, optionally filtered by state.
func (r *TrialRepo) Count(ctx context.Context, studyID string, states ...domain.TrialState) (int, error) {
	var n int
	var err error
	if len(states) == 0 {
		err = r.db.GetContext(ctx, &n, `SELECT count(*) FROM trials WHERE study_id = $1`, studyID)
	} else {
		err = r.db.GetContext(ctx, &n,
			`SELECT count(*) FROM trials WHERE study_id = $1 AND state = ANY($2::text[])`,
			studyID, pq.Array(stateStrings(states)))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count trials: %w", err)
	}
	return n, nil
}

const appendMeasurement = `
UPDATE trials SET measurements = measurements || $3::jsonb, updated_at = $4
WHERE study_id = $1 AND id = $2`

// AddMeasurement appends one intermediate measurement. The append is a
// single JSONB concat so concurrent reporters cannot lose each other's
// writes.
func (r *TrialRepo) AddMeasurement(ctx context.Context, studyID string, trialID int64, m domain.Measurement) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode measurement: %w", err)
	}
	res, err := r.db.ExecContext(ctx, appendMeasurement, studyID, trialID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append measurement: %w", err)
	}
	return oneRowOr(res, storage.ErrTrialNotFound)
}

const updateTrialState = `
UPDATE trials SET state = $4, updated_at = $5
WHERE study_id = $1 AND id = $2 AND state = $3`

// UpdateState flips state from->to atomically.
func (r *TrialRepo) UpdateState(ctx context.Context, studyID string, trialID int64, from, to domain.TrialState) error {
	res, err := r.db.ExecContext(ctx, updateTrialState,
		studyID, trialID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update trial state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.missingOrConflict(ctx, studyID, trialID)
	}
	return nil
}

const completeTrial = `
UPDATE trials
SET state = $3, final = $4, infeasible_reason = $5, updated_at = $6, completed_at = $6
WHERE study_id = $1 AND id = $2 AND state = ANY($7::text[])`

// Complete moves the trial into a terminal state with its final
// measurement. The state filter keeps completion races harmless: only
// a trial still admitting the transition is touched.
func (r *TrialRepo) Complete(ctx context.Context, studyID string, trialID int64, to domain.TrialState, final *domain.Measurement, reason string) error {
	if !to.Terminal() {
		return fmt.Errorf("complete to non-terminal state %s", to)
	}
	var raw []byte
	if final != nil {
		var err error
		if raw, err = json.Marshal(final); err != nil {
			return fmt.Errorf("failed to encode final measurement: %w", err)
		}
	}
	res, err := r.db.ExecContext(ctx, completeTrial,
		studyID, trialID, string(to), raw, reason, time.Now().UTC(), pq.Array(statesAdmitting(to)))
	if err != nil {
		return fmt.Errorf("failed to complete trial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.missingOrConflict(ctx, studyID, trialID)
	}
	return nil
}

const setTrialMetadata = `
UPDATE trials SET metadata = $3, updated_at = $4
WHERE study_id = $1 AND id = $2`

// SetMetadata replaces the trial's metadata.
func (r *TrialRepo) SetMetadata(ctx context.Context, studyID string, trialID int64, md domain.Metadata) error {
	raw, err := marshalMetadata(md)
	if err != nil {
		return fmt.Errorf("failed to encode trial metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, setTrialMetadata, studyID, trialID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set trial metadata: %w", err)
	}
	return oneRowOr(res, storage.ErrTrialNotFound)
}

// ListStale retrieves trials of any study sitting in state since
// before olderThan.
func (r *TrialRepo) ListStale(ctx context.Context, state domain.TrialState, olderThan time.Time) ([]*domain.Trial, error) {
	var rows []trialRow
	query := `SELECT ` + trialColumns + ` FROM trials WHERE state = $1 AND updated_at < $2 ORDER BY study_id, id`
	if err := r.db.SelectContext(ctx, &rows, query, string(state), olderThan); err != nil {
		return nil, fmt.Errorf("failed to list stale trials: %w", err)
	}
	out := make([]*domain.Trial, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// missingOrConflict distinguishes a lost state race from a trial that
// never existed.
func (r *TrialRepo) missingOrConflict(ctx context.Context, studyID string, trialID int64) error {
	var one int
	err := r.db.GetContext(ctx, &one, `SELECT 1 FROM trials WHERE study_id = $1 AND id = $2`, studyID, trialID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrTrialNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check trial: %w", err)
	}
	return storage.ErrStateConflict
}

func stateStrings(states []domain.TrialState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// statesAdmitting lists the states from which the machine allows a
// transition into to.
func statesAdmitting(to domain.TrialState) []string {
	var out []string
	for from, tos := range domain.ValidTransitions {
		for _, t := range tos {
			if t == to {
				out = append(out, string(from))
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
