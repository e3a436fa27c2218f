package movement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists workflows in PostgreSQL. Steps live in a jsonb column
// and are rewritten with every marker.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, wf Workflow) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO movement_workflows
(id, event, reference, from_owner, to_owner, status, steps, last_error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		wf.ID, string(wf.Event), wf.Reference, wf.From, wf.To, string(wf.Status), steps, wf.LastError, wf.CreatedAt, wf.UpdatedAt)
	return err
}

func (r *Repository) Save(ctx context.Context, wf Workflow) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE movement_workflows
SET status=$2, steps=$3, last_error=$4, updated_at=$5 WHERE id=$1`,
		wf.ID, string(wf.Status), steps, wf.LastError, wf.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

const workflowColumns = `id, event, reference, from_owner, to_owner, status, steps, last_error, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Workflow, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM movement_workflows WHERE id=$1`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workflow{}, ErrWorkflowNotFound
	}
	return wf, err
}

func (r *Repository) ListIncomplete(ctx context.Context, updatedBefore time.Time, limit int) ([]Workflow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+workflowColumns+` FROM movement_workflows
WHERE status='RUNNING' AND updated_at <= $1 ORDER BY created_at LIMIT $2`, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (Workflow, error) {
	var (
		wf            Workflow
		event, status string
		steps         []byte
	)
	if err := row.Scan(&wf.ID, &event, &wf.Reference, &wf.From, &wf.To, &status, &steps, &wf.LastError, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return Workflow{}, err
	}
	wf.Event = EventType(event)
	wf.Status = WorkflowStatus(status)
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}
