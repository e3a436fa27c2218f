package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-distribution/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	defaultRecoverAge   = 5 * time.Minute
	defaultRecoverLimit = 100
)

// WorkflowRecoverer finishes running movement workflows.
type WorkflowRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// ApprovalResumer finishes interrupted warehouse approvals.
type ApprovalResumer interface {
	ResumeStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// WorkflowRecoverJob runs movement recovery first so that approvals resumed
// afterwards find their workflows completed.
type WorkflowRecoverJob struct {
	Workflows WorkflowRecoverer
	Approvals ApprovalResumer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewWorkflowRecoverJob wires dependencies for the recovery handler.
func NewWorkflowRecoverJob(workflows WorkflowRecoverer, approvals ApprovalResumer, logger *slog.Logger, metrics *jobmetrics.Metrics) *WorkflowRecoverJob {
	return &WorkflowRecoverJob{Workflows: workflows, Approvals: approvals, Logger: logger, Metrics: metrics}
}

// Handle processes TaskWorkflowRecover tasks.
func (j *WorkflowRecoverJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Workflows == nil {
		return errors.New("workflow recover: handler not configured")
	}
	var payload WorkflowRecoverPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = defaultRecoverAge
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultRecoverLimit
	}

	metrics := j.metrics()
	tracker := metrics.Track(TaskWorkflowRecover)
	logger := j.logger().With(slog.Duration("older_than", payload.OlderThan), slog.Int("limit", payload.Limit))
	logger.Info("starting workflow recovery")

	workflows, wfErr := j.Workflows.RecoverStale(ctx, payload.OlderThan, payload.Limit)
	metrics.AddRecovered("workflow", workflows)
	if wfErr != nil {
		logger.Error("recover workflows", slog.Any("error", wfErr))
	}

	var approvals int
	var apErr error
	if j.Approvals != nil {
		approvals, apErr = j.Approvals.ResumeStalled(ctx, payload.OlderThan, payload.Limit)
		metrics.AddRecovered("delivery_approval", approvals)
		if apErr != nil {
			logger.Error("resume approvals", slog.Any("error", apErr))
		}
	}

	logger.Info("workflow recovery finished", slog.Int("workflows", workflows), slog.Int("approvals", approvals))
	return tracker.End(errors.Join(wfErr, apErr))
}

func (j *WorkflowRecoverJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *WorkflowRecoverJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
