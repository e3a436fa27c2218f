package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWorkflowRecover finishes interrupted movement workflows and warehouse approvals.
	TaskWorkflowRecover = "ledger:workflow_recover"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// WorkflowRecoverPayload bounds one recovery run.
type WorkflowRecoverPayload struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// NewWorkflowRecoverTask constructs a recovery task.
func NewWorkflowRecoverTask(olderThan time.Duration, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(WorkflowRecoverPayload{OlderThan: olderThan, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowRecover, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
