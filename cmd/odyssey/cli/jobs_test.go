package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-distribution/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, s.err
}

func (s stubInspector) Close() error { return nil }

func TestTriggerBuildsRecoveryPayload(t *testing.T) {
	client := &stubEnqueuer{}
	c := &JobsCLI{client: client, defaults: JobDefaults{RecoveryOlderThan: 2 * time.Minute, RecoveryBatch: 25}}

	info, err := c.Trigger(context.Background(), jobs.TaskWorkflowRecover)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskWorkflowRecover, info.Type)
	require.Len(t, client.tasks, 1)

	var payload jobs.WorkflowRecoverPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, 2*time.Minute, payload.OlderThan)
	require.Equal(t, 25, payload.Limit)

	_, err = c.Trigger(context.Background(), "ledger:unknown")
	require.ErrorContains(t, err, "unsupported job")
}

func TestCommandTriggerJSON(t *testing.T) {
	c := &JobsCLI{client: &stubEnqueuer{}, defaults: JobDefaults{KeyRetention: time.Hour}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.Command(context.Background(), JobsOptions{
		Action: "trigger", Job: jobs.TaskIdempotencyCleanup, JSONOutput: true, Stdout: stdout, Stderr: stderr,
	})
	require.Equal(t, 0, code, stderr.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, jobs.TaskIdempotencyCleanup, out["type"])
	require.Equal(t, "task-1", out["id"])
}

func TestCommandStats(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{info: &asynq.QueueInfo{Pending: 3, Retry: 1}}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.Command(context.Background(), JobsOptions{Action: "stats", Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code)
	require.Equal(t, "default pending=3 active=0 scheduled=0 retry=1\n", stdout.String())

	c.inspector = stubInspector{err: errors.New("redis down")}
	stdout.Reset()
	code = c.Command(context.Background(), JobsOptions{Action: "stats", Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "redis down")
}

func TestCommandRejectsUnknownAction(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := (&JobsCLI{}).Command(context.Background(), JobsOptions{Action: "purge", Stderr: stderr, Stdout: new(bytes.Buffer)})
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "unknown action")

	code = (&JobsCLI{}).Command(context.Background(), JobsOptions{Action: "trigger", Stderr: stderr, Stdout: new(bytes.Buffer)})
	require.Equal(t, 1, code)
}
