package shared

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates document transition actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalDeliver ApprovalAction = "DELIVER"
	ApprovalCancel  ApprovalAction = "CANCEL"
)

// ApprovalLog represents a single document transition.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	From    string
	To      string
	Note    string
	At      time.Time
}

func (l ApprovalLog) validate() error {
	if l.Module == "" {
		return errors.New("approval module required")
	}
	if l.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if l.Action == "" {
		return errors.New("approval action required")
	}
	return nil
}

// ApprovalRecorder persists transition history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes a transition entry. Actor zero means the system.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, from_status, to_status, note, at)
VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, COALESCE($8, NOW()))`,
		log.Module, log.RefID, log.ActorID, string(log.Action), log.From, log.To, log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the transitions of one document ordered by time.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, COALESCE(actor_id, 0), action, from_status, to_status, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.From, &l.To, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// MemoryApprovalRecorder keeps transitions in process.
type MemoryApprovalRecorder struct {
	mu   sync.Mutex
	logs []ApprovalLog
}

// NewMemoryApprovalRecorder constructs an empty recorder.
func NewMemoryApprovalRecorder() *MemoryApprovalRecorder {
	return &MemoryApprovalRecorder{}
}

// Record appends a transition entry.
func (r *MemoryApprovalRecorder) Record(_ context.Context, log ApprovalLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	log.ID = int64(len(r.logs) + 1)
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	r.logs = append(r.logs, log)
	return nil
}

// List returns the transitions of one document in insertion order.
func (r *MemoryApprovalRecorder) List(_ context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ApprovalLog
	for _, l := range r.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

// ApprovalPort is satisfied by both recorders.
type ApprovalPort interface {
	Record(ctx context.Context, log ApprovalLog) error
}

// RecordTransition writes a transition when a recorder is configured and logs
// failures instead of returning them.
func RecordTransition(ctx context.Context, port ApprovalPort, logger *slog.Logger, log ApprovalLog) {
	if port == nil {
		return
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	if err := port.Record(ctx, log); err != nil && logger != nil {
		logger.Warn("record transition", slog.String("module", log.Module), slog.String("ref", log.RefID.String()), slog.Any("error", err))
	}
}
