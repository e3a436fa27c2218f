package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-distribution/internal/ar"
	"github.com/odyssey-erp/odyssey-distribution/internal/movement"
	"github.com/odyssey-erp/odyssey-distribution/internal/numbering"
	"github.com/odyssey-erp/odyssey-distribution/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// DocPrefix prefixes delivery note numbers.
const DocPrefix = "DN"

const document = "delivery_note"

// Common errors
var (
	ErrNotFound         = errors.New("delivery: delivery note not found")
	ErrInvalidNote      = errors.New("delivery: invalid delivery note")
	ErrOrderNotFound    = errors.New("delivery: sales order not found")
	ErrOrderNotApproved = errors.New("delivery: sales order not approved")
	ErrExceedsOrder     = errors.New("delivery: quantity exceeds sales order")
	ErrApprovalInFlight = errors.New("delivery: warehouse approval in progress")
)

var transitions = shared.Transitions[NoteStatus]{
	"warehouse_approve": {NoteStatusPending},
	"deliver":           {NoteStatusWarehouseApproved},
	"cancel":            {NoteStatusPending, NoteStatusWarehouseApproved},
}

// OrderReader loads sales orders.
type OrderReader interface {
	Get(ctx context.Context, id uuid.UUID) (orders.SalesOrder, error)
}

// Movements propagates stock effects of a note.
type Movements interface {
	Propagate(ctx context.Context, ev movement.Event) (movement.Workflow, error)
	Get(ctx context.Context, id uuid.UUID) (movement.Workflow, error)
	Recover(ctx context.Context, id uuid.UUID) (movement.Workflow, error)
}

// Receivables opens the customer debt of an approved note.
type Receivables interface {
	CreateReceivable(ctx context.Context, in ar.CreateReceivableInput) (ar.Receivable, error)
	GetReceivableByDelivery(ctx context.Context, deliveryRef string) (ar.Receivable, error)
}

// ServiceConfig tunes billing.
type ServiceConfig struct {
	PaymentTerm time.Duration
}

// Service provides business logic for delivery notes.
type Service struct {
	repo        Repository
	orders      OrderReader
	movements   Movements
	receivables Receivables
	approvals   shared.ApprovalPort
	locker      shared.Locker
	numbers     *numbering.Generator
	cfg         ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a delivery service.
func NewService(repo Repository, orders OrderReader, movements Movements, receivables Receivables,
	approvals shared.ApprovalPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PaymentTerm <= 0 {
		cfg.PaymentTerm = 30 * 24 * time.Hour
	}
	return &Service{
		repo:        repo,
		orders:      orders,
		movements:   movements,
		receivables: receivables,
		approvals:   approvals,
		numbers:     numbering.NewGenerator(repo, DocPrefix),
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker serializes transitions per note.
func (s *Service) SetLocker(l shared.Locker) {
	s.locker = l
}

// Create opens a pending note for an approved sales order.
func (s *Service) Create(ctx context.Context, req CreateDeliveryNoteRequest) (DeliveryNote, error) {
	order, err := s.approvedOrder(ctx, req.SalesOrderID)
	if err != nil {
		return DeliveryNote{}, err
	}
	lines, err := s.pickLines(ctx, order, req.Lines)
	if err != nil {
		return DeliveryNote{}, err
	}
	docNumber, err := s.numbers.Next(ctx)
	if err != nil {
		return DeliveryNote{}, fmt.Errorf("generate doc number: %w", err)
	}
	now := s.now()
	note := DeliveryNote{
		ID:           uuid.New(),
		DocNumber:    docNumber,
		SalesOrderID: order.ID,
		SellerID:     order.SellerID,
		CustomerID:   order.CustomerID,
		Status:       NoteStatusPending,
		Notes:        req.Notes,
		CreatedBy:    shared.ActorFromContext(ctx),
		CreatedAt:    now,
		UpdatedAt:    now,
		Lines:        lines,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, note); err != nil {
			return fmt.Errorf("create delivery note: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeliveryNote{}, err
	}
	s.logger.Info("delivery note created", slog.String("number", note.DocNumber),
		slog.String("order", order.DocNumber), slog.Int("lines", len(lines)))
	return note, nil
}

// WarehouseApprove moves the goods from seller to customer and opens the
// receivable. A failure leaves the note pending; side effects already applied
// are remembered on the note and reused by the next attempt or by Resume.
func (s *Service) WarehouseApprove(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	defer release()

	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	if err := transitions.Check(document, note.DocNumber, note.Status, "warehouse_approve"); err != nil {
		return DeliveryNote{}, err
	}
	if _, err := s.approvedOrder(ctx, note.SalesOrderID); err != nil {
		return DeliveryNote{}, err
	}
	return s.completeApproval(ctx, note)
}

// Resume finishes a warehouse approval interrupted after its first side effect.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	defer release()

	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	if !note.approvalStarted() {
		return note, nil
	}
	s.logger.Info("resuming warehouse approval", slog.String("number", note.DocNumber))
	return s.completeApproval(ctx, note)
}

// ResumeStalled resumes every interrupted approval untouched for olderThan.
func (s *Service) ResumeStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stalled, err := s.repo.ListStalled(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	var (
		resumed int
		errs    []error
	)
	for _, note := range stalled {
		if _, err := s.Resume(ctx, note.ID); err != nil {
			s.logger.Error("resume delivery note", slog.String("number", note.DocNumber), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		resumed++
	}
	return resumed, errors.Join(errs...)
}

func (s *Service) completeApproval(ctx context.Context, note DeliveryNote) (DeliveryNote, error) {
	if err := s.applyMovement(ctx, &note); err != nil {
		return note, err
	}
	if err := s.openReceivable(ctx, &note); err != nil {
		return note, err
	}
	out, err := s.update(ctx, note.ID, func(n *DeliveryNote, now time.Time) error {
		if err := transitions.Check(document, n.DocNumber, n.Status, "warehouse_approve"); err != nil {
			return err
		}
		n.Status = NoteStatusWarehouseApproved
		n.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return note, err
	}
	s.recordTransition(ctx, out, shared.ApprovalApprove, NoteStatusPending)
	s.logger.Info("delivery note approved", slog.String("number", out.DocNumber),
		slog.String("receivable_id", out.ReceivableID.String()))
	return out, nil
}

// applyMovement runs or finishes the SALE_COMPLETED workflow of the note.
func (s *Service) applyMovement(ctx context.Context, note *DeliveryNote) error {
	if note.WorkflowID != nil {
		wf, err := s.movements.Get(ctx, *note.WorkflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		switch wf.Status {
		case movement.WorkflowCompleted:
			return nil
		case movement.WorkflowRunning:
			if _, err := s.movements.Recover(ctx, wf.ID); err != nil {
				return fmt.Errorf("recover workflow: %w", err)
			}
			return nil
		default:
			// Compensated: nothing moved, the next attempt starts over.
			if _, err := s.update(ctx, note.ID, func(n *DeliveryNote, _ time.Time) error {
				n.WorkflowID = nil
				return nil
			}); err != nil {
				return err
			}
			note.WorkflowID = nil
			return fmt.Errorf("%w: workflow %s ended %s: %s", ErrApprovalInFlight, wf.ID, wf.Status, wf.LastError)
		}
	}

	wf, err := s.movements.Propagate(ctx, movement.Event{
		Type:      movement.EventSaleCompleted,
		From:      note.SellerID,
		To:        note.CustomerID,
		Lines:     movementLines(note.Lines),
		Reference: note.DocNumber,
		ActorID:   shared.ActorFromContext(ctx),
	})
	if wf.ID != uuid.Nil && wf.Status != movement.WorkflowCompensated {
		id := wf.ID
		if _, markErr := s.update(ctx, note.ID, func(n *DeliveryNote, _ time.Time) error {
			n.WorkflowID = &id
			return nil
		}); markErr != nil {
			return errors.Join(err, fmt.Errorf("mark workflow: %w", markErr))
		}
		note.WorkflowID = &id
	}
	if err != nil {
		return fmt.Errorf("propagate sale: %w", err)
	}
	return nil
}

func (s *Service) openReceivable(ctx context.Context, note *DeliveryNote) error {
	if note.ReceivableID != nil {
		return nil
	}
	rec, err := s.receivables.CreateReceivable(ctx, ar.CreateReceivableInput{
		DeliveryRef: note.DocNumber,
		CustomerID:  note.CustomerID,
		SellerID:    note.SellerID,
		Total:       note.Total(),
		DueAt:       s.now().Add(s.cfg.PaymentTerm),
	})
	if errors.Is(err, ar.ErrReceivableExists) {
		rec, err = s.receivables.GetReceivableByDelivery(ctx, note.DocNumber)
	}
	if err != nil {
		return fmt.Errorf("open receivable: %w", err)
	}
	id := rec.ID
	if _, err := s.update(ctx, note.ID, func(n *DeliveryNote, _ time.Time) error {
		n.ReceivableID = &id
		return nil
	}); err != nil {
		return fmt.Errorf("mark receivable: %w", err)
	}
	note.ReceivableID = &id
	return nil
}

// Deliver confirms the customer received the goods.
func (s *Service) Deliver(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	defer release()

	out, err := s.update(ctx, id, func(n *DeliveryNote, now time.Time) error {
		if err := transitions.Check(document, n.DocNumber, n.Status, "deliver"); err != nil {
			return err
		}
		n.Status = NoteStatusDelivered
		n.DeliveredAt = &now
		return nil
	})
	if err != nil {
		return DeliveryNote{}, err
	}
	s.recordTransition(ctx, out, shared.ApprovalDeliver, NoteStatusWarehouseApproved)
	return out, nil
}

// Cancel voids a note. Cancelling a warehouse approved note moves the goods
// back with SALE_REVERTED; the receivable is left to the AR module.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	defer release()

	note, err := s.repo.Get(ctx, id)
	if err != nil {
		return DeliveryNote{}, err
	}
	if err := transitions.Check(document, note.DocNumber, note.Status, "cancel"); err != nil {
		return DeliveryNote{}, err
	}
	if note.approvalStarted() {
		return DeliveryNote{}, fmt.Errorf("%w: resume %s before cancelling", ErrApprovalInFlight, note.DocNumber)
	}
	from := note.Status
	var reversal *uuid.UUID
	if from == NoteStatusWarehouseApproved {
		wf, err := s.movements.Propagate(ctx, movement.Event{
			Type:      movement.EventSaleReverted,
			From:      note.SellerID,
			To:        note.CustomerID,
			Lines:     movementLines(note.Lines),
			Reference: note.DocNumber + ":revert",
			ActorID:   shared.ActorFromContext(ctx),
		})
		if err != nil {
			return DeliveryNote{}, fmt.Errorf("propagate reversal: %w", err)
		}
		reversal = &wf.ID
	}
	out, err := s.update(ctx, id, func(n *DeliveryNote, now time.Time) error {
		if n.Status != from {
			return &shared.TransitionError{Document: document, ID: n.DocNumber, From: string(n.Status), Action: "cancel"}
		}
		n.Status = NoteStatusCancelled
		n.CancelledAt = &now
		n.ReversalWorkflowID = reversal
		return nil
	})
	if err != nil {
		return DeliveryNote{}, err
	}
	s.recordTransition(ctx, out, shared.ApprovalCancel, from)
	return out, nil
}

// Get returns a note.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	return s.repo.Get(ctx, id)
}

// List returns notes matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]DeliveryNote, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) approvedOrder(ctx context.Context, id uuid.UUID) (orders.SalesOrder, error) {
	order, err := s.orders.Get(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.SalesOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return orders.SalesOrder{}, fmt.Errorf("get sales order: %w", err)
	}
	if order.Status != orders.SalesOrderStatusApproved {
		return orders.SalesOrder{}, fmt.Errorf("%w: %s is %s", ErrOrderNotApproved, order.DocNumber, order.Status)
	}
	return order, nil
}

// pickLines resolves requested quantities against the order and the notes
// already issued for it.
func (s *Service) pickLines(ctx context.Context, order orders.SalesOrder, req []CreateDeliveryNoteLineReq) ([]DeliveryNoteLine, error) {
	existing, err := s.repo.List(ctx, ListFilter{SalesOrderID: order.ID})
	if err != nil {
		return nil, fmt.Errorf("list order notes: %w", err)
	}
	shipped := make(map[string]float64)
	for _, n := range existing {
		if n.Status == NoteStatusCancelled {
			continue
		}
		for _, l := range n.Lines {
			shipped[l.ProductID] += l.Quantity
		}
	}

	ordered := make(map[string]orders.SalesOrderLine, len(order.Lines))
	for _, l := range order.Lines {
		if prev, ok := ordered[l.ProductID]; ok {
			l.Quantity += prev.Quantity
		}
		ordered[l.ProductID] = l
	}
	if len(req) == 0 {
		for _, l := range order.Lines {
			req = append(req, CreateDeliveryNoteLineReq{ProductID: l.ProductID, Quantity: l.Quantity})
		}
	}

	var lines []DeliveryNoteLine
	for i, r := range req {
		ol, ok := ordered[r.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: line %d product %s not on order %s", ErrInvalidNote, i+1, r.ProductID, order.DocNumber)
		}
		if r.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidNote, i+1)
		}
		shipped[r.ProductID] += r.Quantity
		if decimal.NewFromFloat(shipped[r.ProductID]).GreaterThan(decimal.NewFromFloat(ol.Quantity)) {
			return nil, fmt.Errorf("%w: %s ordered %g, requested %g in total", ErrExceedsOrder, r.ProductID,
				ol.Quantity, shipped[r.ProductID])
		}
		lines = append(lines, DeliveryNoteLine{
			LineOrder:   i + 1,
			ProductID:   r.ProductID,
			ProductName: ol.ProductName,
			Quantity:    r.Quantity,
			UnitPrice:   ol.UnitPrice,
		})
	}
	return lines, nil
}

func (s *Service) update(ctx context.Context, id uuid.UUID, mutate func(*DeliveryNote, time.Time) error) (DeliveryNote, error) {
	var out DeliveryNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := mutate(&note, now); err != nil {
			return err
		}
		note.UpdatedAt = now
		if err := tx.Update(ctx, note); err != nil {
			return fmt.Errorf("update delivery note: %w", err)
		}
		out = note
		return nil
	})
	return out, err
}

func (s *Service) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	release, err := shared.LockKeys(ctx, s.locker, shared.DocumentLockKey(document, id.String()))
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}
	return release, nil
}

func (s *Service) recordTransition(ctx context.Context, note DeliveryNote, action shared.ApprovalAction, from NoteStatus) {
	shared.RecordTransition(ctx, s.approvals, s.logger, shared.ApprovalLog{
		Module: document,
		RefID:  note.ID,
		Action: action,
		From:   string(from),
		To:     string(note.Status),
	})
}

func movementLines(lines []DeliveryNoteLine) []movement.Line {
	out := make([]movement.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, movement.Line{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return out
}
