package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPosition(ctx context.Context, ownerID, productID string) (Position, error)
	ListPositions(ctx context.Context, ownerID string) ([]Position, error)
	ListBatches(ctx context.Context, ownerID, productID string) ([]Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replaying the same posting twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Locker serializes read-then-decide sequences on a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultPolicy       CostingPolicy
	DefaultReorderLevel float64
}

// Service owns every mutation of inventory positions.
type Service struct {
	repo         RepositoryPort
	audit        AuditPort
	idempotency  IdempotencyPort
	locker       Locker
	policy       CostingPolicy
	reorderLevel float64
	now          func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	policy := cfg.DefaultPolicy
	if !policy.IsValid() {
		policy = PolicyWeightedAverage
	}
	return &Service{
		repo:         repo,
		audit:        audit,
		idempotency:  idem,
		policy:       policy,
		reorderLevel: cfg.DefaultReorderLevel,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker installs a per-key lock used around every mutation.
func (s *Service) SetLocker(l Locker) {
	s.locker = l
}

// Credit adds stock at unitCost, creating the position when absent.
func (s *Service) Credit(ctx context.Context, in CreditInput) (Position, error) {
	if in.OwnerID == "" || in.ProductID == "" {
		return Position{}, ErrOwnerProductRequired
	}
	if in.Qty <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	if in.UnitCost < 0 {
		return Position{}, ErrInvalidUnitCost
	}
	if in.Policy != "" && !in.Policy.IsValid() {
		return Position{}, ErrInvalidPolicy
	}
	if in.Kind == "" {
		in.Kind = KindReceipt
	}

	var result Position
	key := postingKey(DirectionIn, in.Kind, in.Reference, in.OwnerID, in.ProductID)
	err := s.mutate(ctx, []string{shared.PositionLockKey(in.OwnerID, in.ProductID)}, key, func(ctx context.Context, tx TxRepository) error {
		pos, err := s.loadOrInit(ctx, tx, in.OwnerID, in.ProductID, in.Policy)
		if err != nil {
			return err
		}
		strategy, err := StrategyFor(pos.Policy)
		if err != nil {
			return err
		}
		var batches []Batch
		if pos.Policy.UsesBatches() {
			if batches, err = tx.ListBatchesForUpdate(ctx, in.OwnerID, in.ProductID); err != nil {
				return err
			}
		}
		now := s.now()
		if strategy.Credit(&pos, in.Qty, in.UnitCost) {
			batch := Batch{
				OwnerID:         in.OwnerID,
				ProductID:       in.ProductID,
				Qty:             in.Qty,
				UnitCost:        in.UnitCost,
				OriginReference: in.Reference,
				ReceivedAt:      now,
			}
			id, err := tx.InsertBatch(ctx, batch)
			if err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
			batch.ID = id
			if err := checkDrift(pos, append(batches, batch)); err != nil {
				return err
			}
		}
		pos.refresh()
		pos.UpdatedAt = now
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			OwnerID:   in.OwnerID,
			ProductID: in.ProductID,
			Direction: DirectionIn,
			Kind:      in.Kind,
			Qty:       in.Qty,
			UnitCost:  in.UnitCost,
			Reference: in.Reference,
			PostedAt:  now,
		}); err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}
		result = pos
		return nil
	})
	if err != nil {
		return Position{}, err
	}
	s.record(ctx, in.ActorID, "credit", in.OwnerID, in.ProductID, map[string]any{
		"qty":       in.Qty,
		"unit_cost": in.UnitCost,
		"kind":      string(in.Kind),
		"reference": in.Reference,
	})
	return result, nil
}

// Debit removes stock. Nothing is written when the position cannot cover qty.
func (s *Service) Debit(ctx context.Context, in DebitInput) (DebitResult, error) {
	if in.OwnerID == "" || in.ProductID == "" {
		return DebitResult{}, ErrOwnerProductRequired
	}
	if in.Qty <= 0 {
		return DebitResult{}, ErrInvalidQuantity
	}
	if in.Kind == "" {
		in.Kind = KindSale
	}

	var result DebitResult
	key := postingKey(DirectionOut, in.Kind, in.Reference, in.OwnerID, in.ProductID)
	err := s.mutate(ctx, []string{shared.PositionLockKey(in.OwnerID, in.ProductID)}, key, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, in.OwnerID, in.ProductID)
		if errors.Is(err, ErrNotFound) {
			return NewInsufficientStock(Shortage{OwnerID: in.OwnerID, ProductID: in.ProductID, Needed: in.Qty})
		}
		if err != nil {
			return err
		}
		strategy, err := StrategyFor(pos.Policy)
		if err != nil {
			return err
		}
		var batches []Batch
		if pos.Policy.UsesBatches() {
			if batches, err = tx.ListBatchesForUpdate(ctx, in.OwnerID, in.ProductID); err != nil {
				return err
			}
		}
		available := strategy.Available(pos, batches)
		if available+qtyEpsilon < in.Qty {
			return NewInsufficientStock(Shortage{OwnerID: in.OwnerID, ProductID: in.ProductID, Needed: in.Qty, Available: available})
		}
		touched, consumed := strategy.Debit(&pos, batches, in.Qty)
		for _, b := range touched {
			if err := tx.UpdateBatchQty(ctx, b.ID, b.Qty); err != nil {
				return fmt.Errorf("update batch %d: %w", b.ID, err)
			}
		}
		if pos.Policy.UsesBatches() {
			if err := checkDrift(pos, mergeBatches(batches, touched)); err != nil {
				return err
			}
		}
		now := s.now()
		pos.refresh()
		pos.UpdatedAt = now
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
		result = DebitResult{Position: pos, Deducted: consumed.Deducted, CostUsed: consumed.CostUsed}
		if _, err := tx.InsertMovement(ctx, Movement{
			OwnerID:   in.OwnerID,
			ProductID: in.ProductID,
			Direction: DirectionOut,
			Kind:      in.Kind,
			Qty:       consumed.Deducted,
			UnitCost:  result.UnitCost(),
			Reference: in.Reference,
			PostedAt:  now,
		}); err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}
		return nil
	})
	if err != nil {
		return DebitResult{}, err
	}
	s.record(ctx, in.ActorID, "debit", in.OwnerID, in.ProductID, map[string]any{
		"qty":       result.Deducted,
		"cost_used": result.CostUsed,
		"kind":      string(in.Kind),
		"reference": in.Reference,
	})
	return result, nil
}

// Adjust posts a signed correction. Positive deltas without a unit cost are
// valued at the current unit cost of the position.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Position, error) {
	switch {
	case in.Delta > 0:
		cost := in.UnitCost
		if cost == 0 {
			if pos, err := s.repo.GetPosition(ctx, in.OwnerID, in.ProductID); err == nil {
				cost = pos.UnitCost
			}
		}
		return s.Credit(ctx, CreditInput{
			OwnerID:   in.OwnerID,
			ProductID: in.ProductID,
			Qty:       in.Delta,
			UnitCost:  cost,
			Reference: in.Reference,
			Kind:      KindAdjustment,
			ActorID:   in.ActorID,
		})
	case in.Delta < 0:
		res, err := s.Debit(ctx, DebitInput{
			OwnerID:   in.OwnerID,
			ProductID: in.ProductID,
			Qty:       -in.Delta,
			Reference: in.Reference,
			Kind:      KindAdjustment,
			ActorID:   in.ActorID,
		})
		return res.Position, err
	default:
		return Position{}, ErrInvalidQuantity
	}
}

// Allocate reserves available quantity without touching on-hand.
func (s *Service) Allocate(ctx context.Context, in ReservationInput) (Position, error) {
	return s.reserve(ctx, in, true)
}

// Deallocate releases a reservation back to available.
func (s *Service) Deallocate(ctx context.Context, in ReservationInput) (Position, error) {
	return s.reserve(ctx, in, false)
}

func (s *Service) reserve(ctx context.Context, in ReservationInput, allocate bool) (Position, error) {
	if in.OwnerID == "" || in.ProductID == "" {
		return Position{}, ErrOwnerProductRequired
	}
	if in.Qty <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	var result Position
	err := s.mutate(ctx, []string{shared.PositionLockKey(in.OwnerID, in.ProductID)}, "", func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, in.OwnerID, in.ProductID)
		if errors.Is(err, ErrNotFound) && allocate {
			return NewInsufficientStock(Shortage{OwnerID: in.OwnerID, ProductID: in.ProductID, Needed: in.Qty})
		}
		if err != nil {
			return err
		}
		if allocate {
			if pos.QtyAvailable+qtyEpsilon < in.Qty {
				return NewInsufficientStock(Shortage{OwnerID: in.OwnerID, ProductID: in.ProductID, Needed: in.Qty, Available: pos.QtyAvailable})
			}
			pos.QtyAvailable -= in.Qty
			pos.QtyAllocated += in.Qty
		} else {
			if pos.QtyAllocated+qtyEpsilon < in.Qty {
				return fmt.Errorf("%w: owner %s product %s allocated %.2f, requested %.2f",
					ErrInsufficientAllocation, in.OwnerID, in.ProductID, pos.QtyAllocated, in.Qty)
			}
			pos.QtyAllocated -= in.Qty
			pos.QtyAvailable += in.Qty
		}
		pos.refresh()
		pos.UpdatedAt = s.now()
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}
		result = pos
		return nil
	})
	if err != nil {
		return Position{}, err
	}
	action := "deallocate"
	if allocate {
		action = "allocate"
	}
	s.record(ctx, in.ActorID, action, in.OwnerID, in.ProductID, map[string]any{"qty": in.Qty, "reference": in.Reference})
	return result, nil
}

// RecordLoan raises the lent counter of the lender and the borrowed counter of
// the borrower. Quantity itself moves through Debit/Credit.
func (s *Service) RecordLoan(ctx context.Context, in LoanInput) error {
	return s.loanCounters(ctx, in, 1)
}

// SettleLoan lowers both counters, never below zero.
func (s *Service) SettleLoan(ctx context.Context, in LoanInput) error {
	return s.loanCounters(ctx, in, -1)
}

func (s *Service) loanCounters(ctx context.Context, in LoanInput, sign float64) error {
	if in.LenderID == "" || in.BorrowerID == "" || in.ProductID == "" {
		return ErrOwnerProductRequired
	}
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	kind := KindLoan
	if sign < 0 {
		kind = KindLoanReturn
	}
	keys := []string{shared.PositionLockKey(in.LenderID, in.ProductID), shared.PositionLockKey(in.BorrowerID, in.ProductID)}
	return s.mutate(ctx, keys, loanKey(kind, in), func(ctx context.Context, tx TxRepository) error {
		lender, err := s.loadOrInit(ctx, tx, in.LenderID, in.ProductID, "")
		if err != nil {
			return err
		}
		borrower, err := s.loadOrInit(ctx, tx, in.BorrowerID, in.ProductID, "")
		if err != nil {
			return err
		}
		now := s.now()
		lender.QtyLent = clampZero(lender.QtyLent + sign*in.Qty)
		borrower.QtyBorrowed = clampZero(borrower.QtyBorrowed + sign*in.Qty)
		for _, pos := range []Position{lender, borrower} {
			pos.refresh()
			pos.UpdatedAt = now
			if err := tx.UpsertPosition(ctx, pos); err != nil {
				return err
			}
		}
		return nil
	})
}

// PostingOp names the ledger call a replay guard belongs to.
type PostingOp string

const (
	OpCredit     PostingOp = "CREDIT"
	OpDebit      PostingOp = "DEBIT"
	OpLoan       PostingOp = "LOAN"
	OpLoanReturn PostingOp = "LOAN_RETURN"
)

// Posting identifies an applied ledger call by the fields of its replay guard.
// CounterpartID is the borrower of loan operations.
type Posting struct {
	Op            PostingOp
	Kind          MovementKind
	Reference     string
	OwnerID       string
	CounterpartID string
	ProductID     string
}

func (p Posting) key() string {
	switch p.Op {
	case OpCredit:
		if p.Kind == "" {
			p.Kind = KindReceipt
		}
		return postingKey(DirectionIn, p.Kind, p.Reference, p.OwnerID, p.ProductID)
	case OpDebit:
		if p.Kind == "" {
			p.Kind = KindSale
		}
		return postingKey(DirectionOut, p.Kind, p.Reference, p.OwnerID, p.ProductID)
	case OpLoan:
		return loanKey(KindLoan, LoanInput{LenderID: p.OwnerID, BorrowerID: p.CounterpartID, ProductID: p.ProductID, Reference: p.Reference})
	case OpLoanReturn:
		return loanKey(KindLoanReturn, LoanInput{LenderID: p.OwnerID, BorrowerID: p.CounterpartID, ProductID: p.ProductID, Reference: p.Reference})
	}
	return ""
}

// ReleasePosting drops the replay guard of a posting that has since been
// reversed, so the same reference may be posted again.
func (s *Service) ReleasePosting(ctx context.Context, p Posting) error {
	switch p.Op {
	case OpCredit, OpDebit, OpLoan, OpLoanReturn:
	default:
		return fmt.Errorf("inventory: release posting: unknown op %q", p.Op)
	}
	key := p.key()
	if s.idempotency == nil || key == "" {
		return nil
	}
	return s.idempotency.Delete(ctx, key)
}

// GetPosition returns one position.
func (s *Service) GetPosition(ctx context.Context, ownerID, productID string) (Position, error) {
	if ownerID == "" || productID == "" {
		return Position{}, ErrOwnerProductRequired
	}
	return s.repo.GetPosition(ctx, ownerID, productID)
}

// ListPositions returns all positions of an owner.
func (s *Service) ListPositions(ctx context.Context, ownerID string) ([]Position, error) {
	if ownerID == "" {
		return nil, ErrOwnerProductRequired
	}
	return s.repo.ListPositions(ctx, ownerID)
}

// ListBatches returns the FIFO lots of a position, oldest first.
func (s *Service) ListBatches(ctx context.Context, ownerID, productID string) ([]Batch, error) {
	batches, err := s.repo.ListBatches(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(batches)
	return batches, nil
}

// ListMovements returns the movement log.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.OwnerID == "" && filter.Reference == "" {
		return nil, errors.New("inventory: owner or reference required")
	}
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// Available returns the quantity a debit could consume right now.
func (s *Service) Available(ctx context.Context, ownerID, productID string) (float64, error) {
	pos, err := s.repo.GetPosition(ctx, ownerID, productID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	strategy, err := StrategyFor(pos.Policy)
	if err != nil {
		return 0, err
	}
	var batches []Batch
	if pos.Policy.UsesBatches() {
		if batches, err = s.repo.ListBatches(ctx, ownerID, productID); err != nil {
			return 0, err
		}
	}
	return strategy.Available(pos, batches), nil
}

// OnHand returns the on-hand quantity, zero for an absent position.
func (s *Service) OnHand(ctx context.Context, ownerID, productID string) (float64, error) {
	pos, err := s.repo.GetPosition(ctx, ownerID, productID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return pos.QtyOnHand, nil
}

func (s *Service) loadOrInit(ctx context.Context, tx TxRepository, ownerID, productID string, policy CostingPolicy) (Position, error) {
	pos, err := tx.GetPositionForUpdate(ctx, ownerID, productID)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Position{}, err
	}
	if policy == "" {
		policy = s.policy
	}
	pos = Position{
		OwnerID:      ownerID,
		ProductID:    productID,
		Policy:       policy,
		ReorderLevel: s.reorderLevel,
	}
	pos.refresh()
	return pos, nil
}

func (s *Service) mutate(ctx context.Context, lockKeys []string, idemKey string, fn func(context.Context, TxRepository) error) error {
	release, err := s.lock(ctx, lockKeys)
	if err != nil {
		return err
	}
	defer release()

	insertedKey := false
	if s.idempotency != nil && idemKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
			return err
		}
		insertedKey = true
	}
	if err := s.repo.WithTx(ctx, fn); err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return err
	}
	return nil
}

func (s *Service) lock(ctx context.Context, keys []string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := shared.LockKeys(ctx, s.locker, keys...)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	return release, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, ownerID, productID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["owner_id"] = ownerID
	meta["product_id"] = productID
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "inventory:" + action,
		Entity:   "inventory_position",
		EntityID: ownerID + ":" + productID,
		Meta:     meta,
	})
}

func checkDrift(pos Position, batches []Batch) error {
	sum := SumBatches(batches)
	if diff := sum - pos.QtyOnHand; diff > qtyEpsilon || diff < -qtyEpsilon {
		return fmt.Errorf("%w: owner %s product %s batches %.4f on hand %.4f",
			ErrBatchDrift, pos.OwnerID, pos.ProductID, sum, pos.QtyOnHand)
	}
	return nil
}

func postingKey(dir Direction, kind MovementKind, reference, ownerID, productID string) string {
	if reference == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", dir, kind, reference, ownerID, productID)
}

func loanKey(kind MovementKind, in LoanInput) string {
	if in.Reference == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s>%s:%s", kind, in.Reference, in.LenderID, in.BorrowerID, in.ProductID)
}

func clampZero(v float64) float64 {
	if v < qtyEpsilon {
		return 0
	}
	return v
}
