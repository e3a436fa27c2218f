package ar

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

const receiptDocument = "payment_receipt"

var receiptTransitions = shared.Transitions[ReceiptStatus]{
	"submit":  {ReceiptDraft},
	"approve": {ReceiptSubmitted},
	"cancel":  {ReceiptDraft, ReceiptSubmitted},
}

// CreateReceipt drafts a receipt whose allocations follow the order of the
// selected receivables.
func (s *Service) CreateReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	if in.CustomerID == "" || len(in.ReceivableIDs) == 0 {
		return Receipt{}, fmt.Errorf("%w: customer and receivables required", ErrInvalidReceipt)
	}
	selected := make([]Receivable, 0, len(in.ReceivableIDs))
	seen := make(map[uuid.UUID]bool, len(in.ReceivableIDs))
	for _, id := range in.ReceivableIDs {
		if seen[id] {
			return Receipt{}, fmt.Errorf("%w: receivable %s selected twice", ErrInvalidReceipt, id)
		}
		seen[id] = true
		rec, err := s.repo.GetReceivable(ctx, id)
		if err != nil {
			return Receipt{}, fmt.Errorf("receivable %s: %w", id, err)
		}
		if rec.CustomerID != in.CustomerID {
			return Receipt{}, fmt.Errorf("%w: receivable %s customer %s", ErrCustomerMismatch, id, rec.CustomerID)
		}
		selected = append(selected, rec)
	}
	allocs, err := BuildAllocations(selected, in.Amount)
	if err != nil {
		return Receipt{}, err
	}

	number := in.Number
	if number == "" {
		if number, err = s.numbers.Next(ctx); err != nil {
			return Receipt{}, err
		}
	}
	now := s.now()
	actor := in.ActorID
	if actor == 0 {
		actor = shared.ActorFromContext(ctx)
	}
	rc := Receipt{
		ID:          uuid.New(),
		Number:      number,
		CustomerID:  in.CustomerID,
		Amount:      sumAllocations(allocs),
		Method:      in.Method,
		Note:        in.Note,
		Allocations: allocs,
		Status:      ReceiptDraft,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertReceipt(ctx, rc)
	}); err != nil {
		return Receipt{}, err
	}
	s.record(ctx, "receipt:create", receiptDocument, rc.ID.String(), map[string]any{
		"number": rc.Number,
		"amount": rc.Amount.StringFixed(moneyPlaces),
	})
	return rc, nil
}

// SubmitReceipt moves a draft receipt to Submitted.
func (s *Service) SubmitReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return s.transition(ctx, id, "submit", shared.ApprovalSubmit, ReceiptSubmitted, nil)
}

// CancelReceipt cancels a receipt that has not been approved.
func (s *Service) CancelReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return s.transition(ctx, id, "cancel", shared.ApprovalCancel, ReceiptCancelled, nil)
}

// ApproveReceipt settles every allocation and marks the receipt Approved in
// one transaction. Any failure leaves the receipt Submitted and every
// receivable untouched.
func (s *Service) ApproveReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	current, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	keys := []string{shared.DocumentLockKey(receiptDocument, id.String())}
	for _, a := range current.Allocations {
		keys = append(keys, shared.ReceivableLockKey(a.ReceivableID.String()))
	}
	release, err := shared.LockKeys(ctx, s.locker, keys...)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	out, err := s.transition(ctx, id, "approve", shared.ApprovalApprove, ReceiptApproved, func(ctx context.Context, tx TxRepository, rc *Receipt) error {
		for _, a := range rc.Allocations {
			rec, err := tx.GetReceivableForUpdate(ctx, a.ReceivableID)
			if err != nil {
				return fmt.Errorf("receivable %s: %w", a.ReceivableID, err)
			}
			if a.Amount.GreaterThan(rec.Remaining) {
				return fmt.Errorf("receivable %s: %w", a.ReceivableID, &OverAllocationError{Amount: a.Amount, Outstanding: rec.Remaining})
			}
			rec.applyPayment(a.Amount)
			rec.UpdatedAt = s.now()
			if err := tx.UpdateReceivable(ctx, rec); err != nil {
				return fmt.Errorf("update receivable %s: %w", a.ReceivableID, err)
			}
		}
		approvedAt := s.now()
		rc.ApprovedAt = &approvedAt
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	for _, a := range out.Allocations {
		s.observe(a.Amount)
	}
	return out, nil
}

// GetReceipt returns one receipt.
func (s *Service) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ListReceipts returns receipts matching filter, newest first.
func (s *Service) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	return s.repo.ListReceipts(ctx, filter)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action string, kind shared.ApprovalAction, to ReceiptStatus,
	apply func(context.Context, TxRepository, *Receipt) error) (Receipt, error) {
	var (
		out  Receipt
		from ReceiptStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rc, err := tx.GetReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := receiptTransitions.Check(receiptDocument, rc.Number, rc.Status, action); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(ctx, tx, &rc); err != nil {
				return err
			}
		}
		from = rc.Status
		rc.Status = to
		rc.UpdatedAt = s.now()
		if err := tx.UpdateReceipt(ctx, rc); err != nil {
			return fmt.Errorf("update receipt: %w", err)
		}
		out = rc
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	shared.RecordTransition(ctx, s.approvals, s.logger, shared.ApprovalLog{
		Module: receiptDocument,
		RefID:  id,
		Action: kind,
		From:   string(from),
		To:     string(to),
	})
	s.record(ctx, "receipt:"+action, receiptDocument, id.String(), map[string]any{"number": out.Number})
	return out, nil
}
