package movement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
)

// WorkflowStatus tracks a propagation from start to finish.
type WorkflowStatus string

const (
	WorkflowRunning     WorkflowStatus = "RUNNING"
	WorkflowCompleted   WorkflowStatus = "COMPLETED"
	WorkflowCompensated WorkflowStatus = "COMPENSATED"
	WorkflowFailed      WorkflowStatus = "FAILED"
)

// Closed reports whether the workflow needs no further work.
func (s WorkflowStatus) Closed() bool {
	return s != WorkflowRunning
}

// StepSide is the ledger call a step performs.
type StepSide string

const (
	SideDebit     StepSide = "DEBIT"
	SideCredit    StepSide = "CREDIT"
	SideLoanOpen  StepSide = "LOAN_OPEN"
	SideLoanClose StepSide = "LOAN_CLOSE"
)

// StepStatus is the completion marker of a step.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepDone        StepStatus = "DONE"
	StepCompensated StepStatus = "COMPENSATED"
)

// Step is one ledger call of a workflow.
type Step struct {
	Seq         int                    `json:"seq"`
	Side        StepSide               `json:"side"`
	OwnerID     string                 `json:"owner_id"`
	Counterpart string                 `json:"counterpart,omitempty"`
	ProductID   string                 `json:"product_id"`
	ProductName string                 `json:"product_name,omitempty"`
	Qty         float64                `json:"qty"`
	UnitCost    float64                `json:"unit_cost"`
	CostFrom    int                    `json:"cost_from"`
	Kind        inventory.MovementKind `json:"kind"`
	Reference   string                 `json:"reference"`
	Status      StepStatus             `json:"status"`
}

// Workflow is the persisted plan of one propagation.
type Workflow struct {
	ID        uuid.UUID      `json:"id"`
	Event     EventType      `json:"event"`
	Reference string         `json:"reference"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Status    WorkflowStatus `json:"status"`
	Steps     []Step         `json:"steps"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Pending returns the indexes of steps not yet applied.
func (w Workflow) Pending() []int {
	var out []int
	for i, s := range w.Steps {
		if s.Status == StepPending {
			out = append(out, i)
		}
	}
	return out
}

// WorkflowStore persists workflows and their step markers.
type WorkflowStore interface {
	Create(ctx context.Context, wf Workflow) error
	Save(ctx context.Context, wf Workflow) error
	Get(ctx context.Context, id uuid.UUID) (Workflow, error)
	ListIncomplete(ctx context.Context, updatedBefore time.Time, limit int) ([]Workflow, error)
}

// MemoryStore is an in-process WorkflowStore.
type MemoryStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]Workflow
}

// NewMemoryStore constructs MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[uuid.UUID]Workflow)}
}

func (m *MemoryStore) Create(_ context.Context, wf Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *MemoryStore) Save(_ context.Context, wf Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return ErrWorkflowNotFound
	}
	m.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return Workflow{}, ErrWorkflowNotFound
	}
	return cloneWorkflow(wf), nil
}

func (m *MemoryStore) ListIncomplete(_ context.Context, updatedBefore time.Time, limit int) ([]Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Workflow
	for _, wf := range m.workflows {
		if wf.Status.Closed() || wf.UpdatedAt.After(updatedBefore) {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneWorkflow(wf Workflow) Workflow {
	wf.Steps = append([]Step(nil), wf.Steps...)
	return wf
}
