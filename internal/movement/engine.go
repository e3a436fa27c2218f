package movement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// Ledger is the inventory surface the engine drives.
type Ledger interface {
	StockView
	GetPosition(ctx context.Context, ownerID, productID string) (inventory.Position, error)
	Credit(ctx context.Context, in inventory.CreditInput) (inventory.Position, error)
	Debit(ctx context.Context, in inventory.DebitInput) (inventory.DebitResult, error)
	RecordLoan(ctx context.Context, in inventory.LoanInput) error
	SettleLoan(ctx context.Context, in inventory.LoanInput) error
	ReleasePosting(ctx context.Context, p inventory.Posting) error
	ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error)
}

// Recorder receives ledger counters.
type Recorder interface {
	WorkflowFinished(event, status string)
	StockRejected(event string)
}

// Engine turns business events into paired ledger calls.
type Engine struct {
	ledger  Ledger
	store   WorkflowStore
	bundles BundleResolver
	locker  inventory.Locker
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine constructs Engine. A nil resolver disables bundle replenishment.
func NewEngine(ledger Ledger, store WorkflowStore, bundles BundleResolver, logger *slog.Logger) *Engine {
	if bundles == nil {
		bundles = NoBundles{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:  ledger,
		store:   store,
		bundles: bundles,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder installs metrics.
func (e *Engine) SetRecorder(r Recorder) {
	e.metrics = r
}

// SetLocker serializes workflow execution per workflow id.
func (e *Engine) SetLocker(l inventory.Locker) {
	e.locker = l
}

// Propagate validates an event, checks every line of the debited owner and
// then applies the workflow. Nothing is written when a line is short.
func (e *Engine) Propagate(ctx context.Context, ev Event) (Workflow, error) {
	rule, err := RuleFor(ev.Type)
	if err != nil {
		return Workflow{}, err
	}
	lines, err := ev.validate()
	if err != nil {
		return Workflow{}, err
	}
	debitOwner, creditOwner, _ := Plan(ev)

	var reps []Replenishment
	if debitOwner != SystemOwner {
		reps, err = e.bundles.Plan(ctx, debitOwner, lines, e.ledger)
		if err != nil {
			return Workflow{}, fmt.Errorf("movement: plan bundles: %w", err)
		}
		if err := e.checkStock(ctx, debitOwner, lines, reps); err != nil {
			if e.metrics != nil && errors.Is(err, inventory.ErrInsufficientStock) {
				e.metrics.StockRejected(string(ev.Type))
			}
			return Workflow{}, err
		}
	}

	wf := e.newWorkflow(ev.Type, ev.Reference, ev.From, ev.To)
	for _, rep := range reps {
		ref := fmt.Sprintf("%s:bundle:%s", ev.Reference, rep.SourceProduct)
		wf.Steps = append(wf.Steps, Step{
			Side: SideDebit, OwnerID: debitOwner, ProductID: rep.SourceProduct,
			Qty: rep.Qty, CostFrom: -1, Kind: inventory.KindConversion, Reference: ref,
		})
		wf.Steps = append(wf.Steps, Step{
			Side: SideCredit, OwnerID: debitOwner, ProductID: rep.TargetProduct,
			Qty: rep.Qty, CostFrom: len(wf.Steps) - 1, Kind: inventory.KindConversion, Reference: ref,
		})
	}
	for _, l := range lines {
		debitIdx := -1
		if debitOwner != SystemOwner {
			wf.Steps = append(wf.Steps, Step{
				Side: SideDebit, OwnerID: debitOwner, ProductID: l.ProductID, ProductName: l.ProductName,
				Qty: l.Quantity, CostFrom: -1, Kind: rule.DebitKind, Reference: ev.Reference,
			})
			debitIdx = len(wf.Steps) - 1
		}
		if creditOwner != SystemOwner {
			wf.Steps = append(wf.Steps, Step{
				Side: SideCredit, OwnerID: creditOwner, ProductID: l.ProductID, ProductName: l.ProductName,
				Qty: l.Quantity, UnitCost: l.UnitCost, CostFrom: debitIdx, Kind: rule.CreditKind, Reference: ev.Reference,
			})
		}
		switch rule.Loan {
		case LoanOpen:
			wf.Steps = append(wf.Steps, Step{Side: SideLoanOpen, OwnerID: ev.From, Counterpart: ev.To,
				ProductID: l.ProductID, Qty: l.Quantity, CostFrom: -1, Reference: ev.Reference})
		case LoanClose:
			wf.Steps = append(wf.Steps, Step{Side: SideLoanClose, OwnerID: ev.From, Counterpart: ev.To,
				ProductID: l.ProductID, Qty: l.Quantity, CostFrom: -1, Reference: ev.Reference})
		}
	}
	return e.start(ctx, wf)
}

// Target is one output product of a conversion.
type Target struct {
	ProductID string  `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
}

// Conversion turns one product of an owner into other products of the same
// owner. Target quantities must sum to the source quantity.
type Conversion struct {
	OwnerID   string   `json:"owner_id" validate:"required"`
	ProductID string   `json:"product_id" validate:"required"`
	Qty       float64  `json:"qty" validate:"gt=0"`
	Targets   []Target `json:"targets" validate:"required,min=1,dive"`
	Reference string   `json:"reference" validate:"required"`
}

// Convert applies a same-owner conversion. The source cost is carried to the
// targets per unit.
func (e *Engine) Convert(ctx context.Context, c Conversion) (Workflow, error) {
	if c.OwnerID == "" || c.ProductID == "" || c.Reference == "" {
		return Workflow{}, fmt.Errorf("%w: owner, product and reference required", ErrInvalidEvent)
	}
	if c.Qty <= 0 || len(c.Targets) == 0 {
		return Workflow{}, fmt.Errorf("%w: conversion needs a positive source and targets", ErrInvalidEvent)
	}
	var sum float64
	merged := make([]Target, 0, len(c.Targets))
	index := make(map[string]int, len(c.Targets))
	for _, t := range c.Targets {
		if t.ProductID == "" || t.ProductID == c.ProductID || t.Qty <= 0 {
			return Workflow{}, fmt.Errorf("%w: target %q must be another product with positive quantity", ErrInvalidEvent, t.ProductID)
		}
		sum += t.Qty
		if i, ok := index[t.ProductID]; ok {
			merged[i].Qty += t.Qty
			continue
		}
		index[t.ProductID] = len(merged)
		merged = append(merged, t)
	}
	if diff := sum - c.Qty; diff > qtyEpsilon || diff < -qtyEpsilon {
		return Workflow{}, &UnbalancedConversionError{OwnerID: c.OwnerID, ProductID: c.ProductID, Source: c.Qty, Targets: sum}
	}
	if err := e.checkStock(ctx, c.OwnerID, []Line{{ProductID: c.ProductID, Quantity: c.Qty}}, nil); err != nil {
		if e.metrics != nil {
			e.metrics.StockRejected(string(EventConversion))
		}
		return Workflow{}, err
	}

	wf := e.newWorkflow(EventConversion, c.Reference, c.OwnerID, c.OwnerID)
	wf.Steps = append(wf.Steps, Step{Side: SideDebit, OwnerID: c.OwnerID, ProductID: c.ProductID,
		Qty: c.Qty, CostFrom: -1, Kind: inventory.KindConversion, Reference: c.Reference})
	for _, t := range merged {
		wf.Steps = append(wf.Steps, Step{Side: SideCredit, OwnerID: c.OwnerID, ProductID: t.ProductID,
			Qty: t.Qty, CostFrom: 0, Kind: inventory.KindConversion, Reference: c.Reference})
	}
	return e.start(ctx, wf)
}

// Adjustment is a stock correction against the system placeholder owner.
type Adjustment struct {
	OwnerID   string              `json:"owner_id" validate:"required"`
	ProductID string              `json:"product_id" validate:"required"`
	Qty       float64             `json:"qty" validate:"gt=0"`
	Direction inventory.Direction `json:"direction" validate:"required,oneof=IN OUT"`
	UnitCost  float64             `json:"unit_cost" validate:"gte=0"`
	Reference string              `json:"reference" validate:"required"`
}

// Adjust credits (IN) or debits (OUT) the owner with SystemOwner on the other side.
func (e *Engine) Adjust(ctx context.Context, a Adjustment) (Workflow, error) {
	ev := Event{
		Type:      EventAdjustment,
		Lines:     []Line{{ProductID: a.ProductID, Quantity: a.Qty, UnitCost: a.UnitCost}},
		Reference: a.Reference,
	}
	switch a.Direction {
	case inventory.DirectionIn:
		ev.From, ev.To = SystemOwner, a.OwnerID
	case inventory.DirectionOut:
		ev.From, ev.To = a.OwnerID, SystemOwner
	default:
		return Workflow{}, fmt.Errorf("%w: direction must be IN or OUT", ErrInvalidEvent)
	}
	return e.Propagate(ctx, ev)
}

// Get returns a workflow.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (Workflow, error) {
	return e.store.Get(ctx, id)
}

// ListIncomplete returns running workflows untouched for at least olderThan.
func (e *Engine) ListIncomplete(ctx context.Context, olderThan time.Duration, limit int) ([]Workflow, error) {
	return e.store.ListIncomplete(ctx, e.now().Add(-olderThan), limit)
}

// Recover finishes the pending steps of a running workflow. Steps that the
// ledger already applied are detected through their idempotency keys.
func (e *Engine) Recover(ctx context.Context, id uuid.UUID) (Workflow, error) {
	release, err := e.lock(ctx, id)
	if err != nil {
		return Workflow{}, err
	}
	defer release()

	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return Workflow{}, err
	}
	if wf.Status.Closed() {
		return wf, fmt.Errorf("%w: %s is %s", ErrWorkflowClosed, id, wf.Status)
	}
	e.logger.Info("recovering workflow", slog.String("workflow_id", id.String()),
		slog.String("reference", wf.Reference), slog.Int("pending", len(wf.Pending())))
	return e.execute(ctx, &wf, true)
}

// RecoverStale recovers every workflow left running for longer than olderThan.
func (e *Engine) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := e.ListIncomplete(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	var (
		recovered int
		errs      []error
	)
	for _, wf := range stale {
		if _, err := e.Recover(ctx, wf.ID); err != nil {
			e.logger.Error("recover workflow", slog.String("workflow_id", wf.ID.String()), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		recovered++
	}
	return recovered, errors.Join(errs...)
}

func (e *Engine) newWorkflow(t EventType, reference, from, to string) Workflow {
	now := e.now()
	return Workflow{
		ID:        uuid.New(),
		Event:     t,
		Reference: reference,
		From:      from,
		To:        to,
		Status:    WorkflowRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Engine) start(ctx context.Context, wf Workflow) (Workflow, error) {
	for i := range wf.Steps {
		wf.Steps[i].Seq = i + 1
		wf.Steps[i].Status = StepPending
	}
	release, err := e.lock(ctx, wf.ID)
	if err != nil {
		return Workflow{}, err
	}
	defer release()

	if err := e.store.Create(ctx, wf); err != nil {
		return Workflow{}, fmt.Errorf("movement: create workflow: %w", err)
	}
	return e.execute(ctx, &wf, false)
}

func (e *Engine) execute(ctx context.Context, wf *Workflow, recovering bool) (Workflow, error) {
	for _, i := range wf.Pending() {
		if err := e.applyStep(ctx, wf, i, recovering); err != nil {
			wf.LastError = err.Error()
			if isPermanent(err) {
				e.compensate(ctx, wf)
				e.finished(*wf)
			}
			wf.UpdatedAt = e.now()
			if saveErr := e.store.Save(ctx, *wf); saveErr != nil {
				e.logger.Error("save workflow", slog.String("workflow_id", wf.ID.String()), slog.Any("error", saveErr))
			}
			return *wf, err
		}
		wf.UpdatedAt = e.now()
		if err := e.store.Save(ctx, *wf); err != nil {
			return *wf, fmt.Errorf("movement: save step marker: %w", err)
		}
	}
	wf.Status = WorkflowCompleted
	wf.LastError = ""
	wf.UpdatedAt = e.now()
	if err := e.store.Save(ctx, *wf); err != nil {
		return *wf, fmt.Errorf("movement: complete workflow: %w", err)
	}
	e.finished(*wf)
	return *wf, nil
}

func (e *Engine) applyStep(ctx context.Context, wf *Workflow, i int, recovering bool) error {
	st := &wf.Steps[i]
	switch st.Side {
	case SideDebit:
		res, err := e.ledger.Debit(ctx, inventory.DebitInput{
			OwnerID: st.OwnerID, ProductID: st.ProductID, Qty: st.Qty, Reference: st.Reference, Kind: st.Kind,
		})
		switch {
		case err == nil:
			st.UnitCost = res.UnitCost()
		case recovering && errors.Is(err, shared.ErrIdempotencyConflict):
			st.UnitCost = e.postedCost(ctx, *st)
		default:
			return e.stepError(err, *st)
		}
	case SideCredit:
		cost := st.UnitCost
		if st.CostFrom >= 0 {
			cost = wf.Steps[st.CostFrom].UnitCost
		} else if cost == 0 {
			if pos, err := e.ledger.GetPosition(ctx, st.OwnerID, st.ProductID); err == nil {
				cost = pos.UnitCost
			}
		}
		st.UnitCost = cost
		_, err := e.ledger.Credit(ctx, inventory.CreditInput{
			OwnerID: st.OwnerID, ProductID: st.ProductID, Qty: st.Qty, UnitCost: cost, Reference: st.Reference, Kind: st.Kind,
		})
		if err != nil && !(recovering && errors.Is(err, shared.ErrIdempotencyConflict)) {
			return e.stepError(err, *st)
		}
	case SideLoanOpen:
		err := e.ledger.RecordLoan(ctx, loanInput(*st))
		if err != nil && !(recovering && errors.Is(err, shared.ErrIdempotencyConflict)) {
			return e.stepError(err, *st)
		}
	case SideLoanClose:
		err := e.ledger.SettleLoan(ctx, loanInput(*st))
		if err != nil && !(recovering && errors.Is(err, shared.ErrIdempotencyConflict)) {
			return e.stepError(err, *st)
		}
	default:
		return fmt.Errorf("%w: unknown step side %s", ErrInvalidEvent, st.Side)
	}
	st.Status = StepDone
	return nil
}

// compensate reverses applied steps newest first, then releases their replay
// guards so the same reference can be propagated again.
func (e *Engine) compensate(ctx context.Context, wf *Workflow) {
	var done []int
	for i, s := range wf.Steps {
		if s.Status == StepDone {
			done = append(done, i)
		}
	}
	if len(done) == 0 {
		wf.Status = WorkflowFailed
		return
	}
	for k := len(done) - 1; k >= 0; k-- {
		st := &wf.Steps[done[k]]
		ref := st.Reference + ":compensate:" + wf.ID.String()
		reversal := loanInput(*st)
		reversal.Reference = ref
		var err error
		switch st.Side {
		case SideDebit:
			_, err = e.ledger.Credit(ctx, inventory.CreditInput{
				OwnerID: st.OwnerID, ProductID: st.ProductID, Qty: st.Qty, UnitCost: st.UnitCost, Reference: ref, Kind: st.Kind,
			})
		case SideCredit:
			_, err = e.ledger.Debit(ctx, inventory.DebitInput{
				OwnerID: st.OwnerID, ProductID: st.ProductID, Qty: st.Qty, Reference: ref, Kind: st.Kind,
			})
		case SideLoanOpen:
			err = e.ledger.SettleLoan(ctx, reversal)
		case SideLoanClose:
			err = e.ledger.RecordLoan(ctx, reversal)
		}
		if err != nil {
			e.logger.Error("compensate step", slog.String("workflow_id", wf.ID.String()),
				slog.Int("seq", st.Seq), slog.Any("error", err))
			wf.Status = WorkflowFailed
			wf.LastError = fmt.Sprintf("%s; compensation of step %d: %v", wf.LastError, st.Seq, err)
			return
		}
		st.Status = StepCompensated
		if err := e.ledger.ReleasePosting(ctx, postingOf(*st)); err != nil {
			e.logger.Warn("release replay guard", slog.String("workflow_id", wf.ID.String()),
				slog.Int("seq", st.Seq), slog.Any("error", err))
		}
	}
	wf.Status = WorkflowCompensated
}

func postingOf(st Step) inventory.Posting {
	p := inventory.Posting{
		Kind:          st.Kind,
		Reference:     st.Reference,
		OwnerID:       st.OwnerID,
		CounterpartID: st.Counterpart,
		ProductID:     st.ProductID,
	}
	switch st.Side {
	case SideDebit:
		p.Op = inventory.OpDebit
	case SideCredit:
		p.Op = inventory.OpCredit
	case SideLoanOpen:
		p.Op = inventory.OpLoan
	case SideLoanClose:
		p.Op = inventory.OpLoanReturn
	}
	return p
}

// postedCost recovers the unit cost of a debit applied before its marker was saved.
func (e *Engine) postedCost(ctx context.Context, st Step) float64 {
	moves, err := e.ledger.ListMovements(ctx, inventory.MovementFilter{
		OwnerID: st.OwnerID, ProductID: st.ProductID, Reference: st.Reference, Limit: 50,
	})
	if err == nil {
		for _, m := range moves {
			if m.Direction == inventory.DirectionOut && m.Kind == st.Kind {
				return m.UnitCost
			}
		}
	}
	e.logger.Warn("posted cost not found", slog.String("reference", st.Reference),
		slog.String("owner_id", st.OwnerID), slog.String("product_id", st.ProductID))
	return 0
}

// checkStock compares every line with the owner's available quantity after
// the planned replenishments and reports all short lines at once.
func (e *Engine) checkStock(ctx context.Context, ownerID string, lines []Line, reps []Replenishment) error {
	avail := make(map[string]float64)
	load := func(productID string) (float64, error) {
		if v, ok := avail[productID]; ok {
			return v, nil
		}
		v, err := e.ledger.Available(ctx, ownerID, productID)
		if err != nil {
			return 0, err
		}
		avail[productID] = v
		return v, nil
	}
	for _, rep := range reps {
		if _, err := load(rep.SourceProduct); err != nil {
			return err
		}
		if _, err := load(rep.TargetProduct); err != nil {
			return err
		}
		avail[rep.SourceProduct] -= rep.Qty
		avail[rep.TargetProduct] += rep.Qty
	}
	var short []inventory.Shortage
	for _, l := range lines {
		have, err := load(l.ProductID)
		if err != nil {
			return err
		}
		if have+qtyEpsilon < l.Quantity {
			if have < 0 {
				have = 0
			}
			short = append(short, inventory.Shortage{
				OwnerID: ownerID, ProductID: l.ProductID, ProductName: l.ProductName,
				Needed: l.Quantity, Available: have,
			})
		}
	}
	if len(short) > 0 {
		return inventory.NewInsufficientStock(short...)
	}
	return nil
}

func (e *Engine) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	return e.locker.Acquire(ctx, shared.DocumentLockKey("workflow", id.String()))
}

func (e *Engine) finished(wf Workflow) {
	if e.metrics != nil {
		e.metrics.WorkflowFinished(string(wf.Event), string(wf.Status))
	}
	e.logger.Debug("workflow finished", slog.String("workflow_id", wf.ID.String()),
		slog.String("event", string(wf.Event)), slog.String("status", string(wf.Status)))
}

func (e *Engine) stepError(err error, st Step) error {
	return fmt.Errorf("movement: step %d %s %s/%s: %w", st.Seq, st.Side, st.OwnerID, st.ProductID, err)
}

func loanInput(st Step) inventory.LoanInput {
	return inventory.LoanInput{
		LenderID:   st.OwnerID,
		BorrowerID: st.Counterpart,
		ProductID:  st.ProductID,
		Qty:        st.Qty,
		Reference:  st.Reference,
	}
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, inventory.ErrInsufficientStock) ||
		errors.Is(err, inventory.ErrBatchDrift) ||
		errors.Is(err, inventory.ErrInvalidQuantity) ||
		errors.Is(err, inventory.ErrInvalidPolicy) ||
		errors.Is(err, shared.ErrIdempotencyConflict)
}
