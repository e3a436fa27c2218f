package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/numbering"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// DocPrefix prefixes sales order numbers.
const DocPrefix = "SO"

const document = "sales_order"

var (
	ErrNotFound     = errors.New("orders: sales order not found")
	ErrInvalidOrder = errors.New("orders: invalid sales order")
)

var transitions = shared.Transitions[SalesOrderStatus]{
	"submit":  {SalesOrderStatusDraft},
	"approve": {SalesOrderStatusSubmitted},
	"cancel":  {SalesOrderStatusDraft, SalesOrderStatusSubmitted},
}

type Service struct {
	repo      Repository
	approvals shared.ApprovalPort
	numbers   *numbering.Generator
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, approvals shared.ApprovalPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		approvals: approvals,
		numbers:   numbering.NewGenerator(repo, DocPrefix),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, req CreateSalesOrderRequest) (SalesOrder, error) {
	if err := validateRequest(req); err != nil {
		return SalesOrder{}, err
	}
	docNumber, err := s.numbers.Next(ctx)
	if err != nil {
		return SalesOrder{}, fmt.Errorf("generate doc number: %w", err)
	}
	now := s.now()
	order := SalesOrder{
		ID:         uuid.New(),
		DocNumber:  docNumber,
		SellerID:   req.SellerID,
		CustomerID: req.CustomerID,
		OrderDate:  req.OrderDate,
		Status:     SalesOrderStatusDraft,
		Notes:      req.Notes,
		CreatedBy:  shared.ActorFromContext(ctx),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = now
	}
	for i, l := range req.Lines {
		order.Lines = append(order.Lines, SalesOrderLine{
			LineOrder:   i + 1,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.logger.Info("sales order created", slog.String("number", order.DocNumber), slog.String("seller", order.SellerID),
		slog.String("customer", order.CustomerID))
	return order, nil
}

func (s *Service) Submit(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return s.transition(ctx, id, "submit", shared.ApprovalSubmit, SalesOrderStatusSubmitted)
}

// Approve makes the order eligible for delivery notes.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return s.transition(ctx, id, "approve", shared.ApprovalApprove, SalesOrderStatusApproved)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return s.transition(ctx, id, "cancel", shared.ApprovalCancel, SalesOrderStatusCancelled)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action string, kind shared.ApprovalAction, to SalesOrderStatus) (SalesOrder, error) {
	var (
		out  SalesOrder
		from SalesOrderStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := transitions.Check(document, order.DocNumber, order.Status, action); err != nil {
			return err
		}
		now := s.now()
		from = order.Status
		order.Status = to
		order.UpdatedAt = now
		switch to {
		case SalesOrderStatusApproved:
			order.ApprovedAt = &now
		case SalesOrderStatusCancelled:
			order.CancelledAt = &now
		}
		if err := tx.UpdateStatus(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		out = order
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	shared.RecordTransition(ctx, s.approvals, s.logger, shared.ApprovalLog{
		Module: document,
		RefID:  id,
		Action: kind,
		From:   string(from),
		To:     string(to),
	})
	return out, nil
}

func validateRequest(req CreateSalesOrderRequest) error {
	if req.SellerID == "" || req.CustomerID == "" {
		return fmt.Errorf("%w: seller and customer required", ErrInvalidOrder)
	}
	if req.SellerID == req.CustomerID {
		return fmt.Errorf("%w: seller and customer must differ", ErrInvalidOrder)
	}
	if len(req.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrInvalidOrder)
	}
	for i, l := range req.Lines {
		if l.ProductID == "" {
			return fmt.Errorf("%w: line %d product required", ErrInvalidOrder, i+1)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidOrder, i+1)
		}
		if l.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d unit price must be >= 0", ErrInvalidOrder, i+1)
		}
	}
	return nil
}
