package movement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

var errTransient = errors.New("connection reset by peer")

// flakyLedger injects failures around a real inventory service.
type flakyLedger struct {
	*inventory.Service
	failCredits     int
	failAfterDebits int
	shortProduct    string
}

func (f *flakyLedger) Credit(ctx context.Context, in inventory.CreditInput) (inventory.Position, error) {
	if f.failCredits > 0 {
		f.failCredits--
		return inventory.Position{}, errTransient
	}
	return f.Service.Credit(ctx, in)
}

func (f *flakyLedger) Debit(ctx context.Context, in inventory.DebitInput) (inventory.DebitResult, error) {
	if in.ProductID == f.shortProduct {
		return inventory.DebitResult{}, inventory.NewInsufficientStock(inventory.Shortage{
			OwnerID: in.OwnerID, ProductID: in.ProductID, Needed: in.Qty,
		})
	}
	res, err := f.Service.Debit(ctx, in)
	if err == nil && f.failAfterDebits > 0 {
		f.failAfterDebits--
		return inventory.DebitResult{}, errTransient
	}
	return res, err
}

type countingRecorder struct {
	finished map[string]int
	rejected int
}

func (c *countingRecorder) WorkflowFinished(_, status string) {
	if c.finished == nil {
		c.finished = make(map[string]int)
	}
	c.finished[status]++
}

func (c *countingRecorder) StockRejected(string) { c.rejected++ }

type fixture struct {
	engine *Engine
	ledger *flakyLedger
	store  *MemoryStore
}

func newFixture(t *testing.T, bundles BundleResolver) *fixture {
	t.Helper()
	svc := inventory.NewService(inventory.NewMemoryRepository(), nil, shared.NewMemoryIdempotencyStore(), inventory.ServiceConfig{})
	ledger := &flakyLedger{Service: svc}
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{engine: NewEngine(ledger, store, bundles, logger), ledger: ledger, store: store}
}

func (f *fixture) stock(t *testing.T, owner, product string, qty, cost float64) {
	t.Helper()
	_, err := f.ledger.Service.Credit(context.Background(), inventory.CreditInput{OwnerID: owner, ProductID: product, Qty: qty, UnitCost: cost})
	require.NoError(t, err)
}

func (f *fixture) position(t *testing.T, owner, product string) inventory.Position {
	t.Helper()
	pos, err := f.ledger.Service.GetPosition(context.Background(), owner, product)
	if errors.Is(err, inventory.ErrNotFound) {
		return inventory.Position{OwnerID: owner, ProductID: product}
	}
	require.NoError(t, err)
	return pos
}

func TestPropagateSale(t *testing.T) {
	f := newFixture(t, nil)
	rec := &countingRecorder{}
	f.engine.SetRecorder(rec)
	f.stock(t, "A", "X", 10, 5)
	f.stock(t, "A", "Y", 4, 2)

	wf, err := f.engine.Propagate(context.Background(), Event{
		Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-1",
		Lines: []Line{{ProductID: "X", Quantity: 3}, {ProductID: "Y", Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, wf.Status)
	require.Len(t, wf.Steps, 4)
	require.Empty(t, wf.Pending())

	require.InDelta(t, 7.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 0.0, f.position(t, "A", "Y").QtyOnHand, 0.0001)
	buyerX := f.position(t, "B", "X")
	require.InDelta(t, 3.0, buyerX.QtyOnHand, 0.0001)
	require.InDelta(t, 5.0, buyerX.UnitCost, 0.0001)
	require.InDelta(t, 2.0, f.position(t, "B", "Y").UnitCost, 0.0001)
	require.Equal(t, 1, rec.finished[string(WorkflowCompleted)])
}

func TestPropagateIsAllOrNothing(t *testing.T) {
	f := newFixture(t, nil)
	rec := &countingRecorder{}
	f.engine.SetRecorder(rec)
	f.stock(t, "A", "X", 10, 5)
	f.stock(t, "A", "Y", 1, 2)

	_, err := f.engine.Propagate(context.Background(), Event{
		Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-2",
		Lines: []Line{
			{ProductID: "X", ProductName: "Widget", Quantity: 30},
			{ProductID: "Y", Quantity: 1},
			{ProductID: "Z", ProductName: "Gadget", Quantity: 2},
		},
	})
	short, ok := inventory.AsInsufficientStock(err)
	require.True(t, ok)
	require.Len(t, short.Lines, 2)
	require.Equal(t, "X", short.Lines[0].ProductID)
	require.InDelta(t, 20.0, short.Lines[0].Missing(), 0.0001)
	require.Equal(t, "Z", short.Lines[1].ProductID)
	require.Contains(t, err.Error(), "Gadget")
	require.Equal(t, 1, rec.rejected)

	require.InDelta(t, 10.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 1.0, f.position(t, "A", "Y").QtyOnHand, 0.0001)
	require.Zero(t, f.position(t, "B", "Y").QtyOnHand)
}

func TestPropagateMergesLinesBeforeChecking(t *testing.T) {
	f := newFixture(t, nil)
	f.stock(t, "A", "X", 4, 1)

	_, err := f.engine.Propagate(context.Background(), Event{
		Type: EventTransferCompleted, From: "A", To: "B", Reference: "TR-1",
		Lines: []Line{{ProductID: "X", Quantity: 3}, {ProductID: "X", Quantity: 2}},
	})
	short, ok := inventory.AsInsufficientStock(err)
	require.True(t, ok)
	require.InDelta(t, 5.0, short.Lines[0].Needed, 0.0001)
}

func TestPropagateRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Propagate(ctx, Event{Type: "BARTER", From: "A", To: "B", Reference: "R", Lines: []Line{{ProductID: "X", Quantity: 1}}})
	require.ErrorIs(t, err, ErrUnknownEvent)
	_, err = f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "A", Reference: "R", Lines: []Line{{ProductID: "X", Quantity: 1}}})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "R"})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "R", Lines: []Line{{ProductID: "X", Quantity: -1}}})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestSaleReversal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 5, 8)
	ev := Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-3", Lines: []Line{{ProductID: "X", Quantity: 5}}}

	_, err := f.engine.Propagate(ctx, ev)
	require.NoError(t, err)
	ev.Type = EventSaleReverted
	_, err = f.engine.Propagate(ctx, ev)
	require.NoError(t, err)

	require.InDelta(t, 5.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 8.0, f.position(t, "A", "X").UnitCost, 0.0001)
	require.Zero(t, f.position(t, "B", "X").QtyOnHand)

	_, err = f.engine.Propagate(ctx, ev)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestLoanLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 6, 3)
	ev := Event{Type: EventLoanCreated, From: "A", To: "B", Reference: "LN-1", Lines: []Line{{ProductID: "X", Quantity: 2}}}

	_, err := f.engine.Propagate(ctx, ev)
	require.NoError(t, err)
	lender := f.position(t, "A", "X")
	borrower := f.position(t, "B", "X")
	require.InDelta(t, 4.0, lender.QtyOnHand, 0.0001)
	require.InDelta(t, 2.0, lender.QtyLent, 0.0001)
	require.InDelta(t, 2.0, borrower.QtyOnHand, 0.0001)
	require.InDelta(t, 2.0, borrower.QtyBorrowed, 0.0001)

	ev.Type = EventLoanReturned
	_, err = f.engine.Propagate(ctx, ev)
	require.NoError(t, err)
	lender = f.position(t, "A", "X")
	borrower = f.position(t, "B", "X")
	require.InDelta(t, 6.0, lender.QtyOnHand, 0.0001)
	require.Zero(t, lender.QtyLent)
	require.Zero(t, borrower.QtyOnHand)
	require.Zero(t, borrower.QtyBorrowed)
}

func TestConversion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "P", 10, 6)

	_, err := f.engine.Convert(ctx, Conversion{OwnerID: "A", ProductID: "P", Qty: 10, Reference: "CV-1",
		Targets: []Target{{ProductID: "Q", Qty: 4}, {ProductID: "R", Qty: 6}}})
	require.NoError(t, err)
	require.Zero(t, f.position(t, "A", "P").QtyOnHand)
	q := f.position(t, "A", "Q")
	require.InDelta(t, 4.0, q.QtyOnHand, 0.0001)
	require.InDelta(t, 6.0, q.UnitCost, 0.0001)
	require.InDelta(t, 6.0, f.position(t, "A", "R").QtyOnHand, 0.0001)
}

func TestUnbalancedConversionChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "P", 10, 6)

	_, err := f.engine.Convert(ctx, Conversion{OwnerID: "A", ProductID: "P", Qty: 10, Reference: "CV-2",
		Targets: []Target{{ProductID: "Q", Qty: 4}, {ProductID: "R", Qty: 5}}})
	require.ErrorIs(t, err, ErrUnbalancedConversion)
	var unbalanced *UnbalancedConversionError
	require.ErrorAs(t, err, &unbalanced)
	require.InDelta(t, 9.0, unbalanced.Targets, 0.0001)

	require.InDelta(t, 10.0, f.position(t, "A", "P").QtyOnHand, 0.0001)
	require.Zero(t, f.position(t, "A", "Q").QtyOnHand)
	require.Zero(t, f.position(t, "A", "R").QtyOnHand)

	_, err = f.engine.Convert(ctx, Conversion{OwnerID: "A", ProductID: "P", Qty: 10, Reference: "CV-3",
		Targets: []Target{{ProductID: "P", Qty: 10}}})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAdjustAndReceipt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Propagate(ctx, Event{Type: EventReceipt, From: SystemOwner, To: "A", Reference: "GRN-1",
		Lines: []Line{{ProductID: "X", Quantity: 10, UnitCost: 7}}})
	require.NoError(t, err)
	require.InDelta(t, 7.0, f.position(t, "A", "X").UnitCost, 0.0001)

	_, err = f.engine.Adjust(ctx, Adjustment{OwnerID: "A", ProductID: "X", Qty: 2, Direction: inventory.DirectionIn, Reference: "ADJ-1"})
	require.NoError(t, err)
	pos := f.position(t, "A", "X")
	require.InDelta(t, 12.0, pos.QtyOnHand, 0.0001)
	require.InDelta(t, 7.0, pos.UnitCost, 0.0001)

	_, err = f.engine.Adjust(ctx, Adjustment{OwnerID: "A", ProductID: "X", Qty: 5, Direction: inventory.DirectionOut, Reference: "ADJ-2"})
	require.NoError(t, err)
	require.InDelta(t, 7.0, f.position(t, "A", "X").QtyOnHand, 0.0001)

	_, err = f.engine.Adjust(ctx, Adjustment{OwnerID: "A", ProductID: "X", Qty: 50, Direction: inventory.DirectionOut, Reference: "ADJ-3"})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	_, err = f.engine.Adjust(ctx, Adjustment{OwnerID: "A", ProductID: "X", Qty: 1, Direction: "SIDEWAYS", Reference: "ADJ-4"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestPlaceholderReplenishment(t *testing.T) {
	f := newFixture(t, PlaceholderResolver{ProductID: "BULK"})
	ctx := context.Background()
	f.stock(t, "A", "X", 10, 5)
	f.stock(t, "A", "Y", 6, 2)
	f.stock(t, "A", "BULK", 1, 1)

	wf, err := f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-9",
		Lines: []Line{{ProductID: "BULK", Quantity: 8}, {ProductID: "Y", Quantity: 2}}})
	require.NoError(t, err)
	require.Equal(t, inventory.KindConversion, wf.Steps[0].Kind)
	require.Equal(t, "X", wf.Steps[0].ProductID)
	require.InDelta(t, 7.0, wf.Steps[0].Qty, 0.0001)

	require.InDelta(t, 3.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 4.0, f.position(t, "A", "Y").QtyOnHand, 0.0001)
	require.Zero(t, f.position(t, "A", "BULK").QtyOnHand)
	bulk := f.position(t, "B", "BULK")
	require.InDelta(t, 8.0, bulk.QtyOnHand, 0.0001)
	require.InDelta(t, 4.5, bulk.UnitCost, 0.0001)

	moves, err := f.ledger.ListMovements(ctx, inventory.MovementFilter{OwnerID: "A", ProductID: "BULK"})
	require.NoError(t, err)
	var conversions int
	for _, m := range moves {
		if m.Kind == inventory.KindConversion {
			conversions++
		}
	}
	require.Equal(t, 1, conversions)
}

func TestPlaceholderShortageChangesNothing(t *testing.T) {
	f := newFixture(t, PlaceholderResolver{ProductID: "BULK"})
	f.stock(t, "A", "X", 10, 5)
	f.stock(t, "A", "Y", 6, 2)

	_, err := f.engine.Propagate(context.Background(), Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-10",
		Lines: []Line{{ProductID: "BULK", Quantity: 30}}})
	short, ok := inventory.AsInsufficientStock(err)
	require.True(t, ok)
	require.InDelta(t, 16.0, short.Lines[0].Available, 0.0001)
	require.InDelta(t, 10.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.Zero(t, f.position(t, "A", "BULK").QtyOnHand)
}

func TestRecoverFinishesPendingCredit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 10, 5)
	f.ledger.failCredits = 1

	wf, err := f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-4",
		Lines: []Line{{ProductID: "X", Quantity: 4}}})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, WorkflowRunning, wf.Status)
	require.Len(t, wf.Pending(), 1)
	require.Zero(t, f.position(t, "B", "X").QtyOnHand)

	stale, err := f.engine.ListIncomplete(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	recovered, err := f.engine.RecoverStale(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.InDelta(t, 6.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 4.0, f.position(t, "B", "X").QtyOnHand, 0.0001)

	_, err = f.engine.Recover(ctx, wf.ID)
	require.ErrorIs(t, err, ErrWorkflowClosed)
}

func TestRecoverDoesNotRepeatAppliedDebit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 10, 5)
	f.ledger.failAfterDebits = 1

	wf, err := f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-5",
		Lines: []Line{{ProductID: "X", Quantity: 3}}})
	require.Error(t, err)
	require.Len(t, wf.Pending(), 2)

	wf, err = f.engine.Recover(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, wf.Status)
	require.InDelta(t, 7.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	buyer := f.position(t, "B", "X")
	require.InDelta(t, 3.0, buyer.QtyOnHand, 0.0001)
	require.InDelta(t, 5.0, buyer.UnitCost, 0.0001)
}

func TestPermanentFailureCompensates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 10, 5)
	f.stock(t, "A", "Y", 10, 5)
	f.ledger.shortProduct = "Y"

	wf, err := f.engine.Propagate(ctx, Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-6",
		Lines: []Line{{ProductID: "X", Quantity: 2}, {ProductID: "Y", Quantity: 2}}})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, WorkflowCompensated, wf.Status)
	require.Equal(t, StepCompensated, wf.Steps[0].Status)
	require.Equal(t, StepCompensated, wf.Steps[1].Status)

	require.InDelta(t, 10.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.Zero(t, f.position(t, "B", "X").QtyOnHand)

	stored, err := f.engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowCompensated, stored.Status)
	require.NotEmpty(t, stored.LastError)
}

func TestCompensatedReferenceCanRunAgain(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 10, 5)
	f.stock(t, "A", "Y", 10, 5)
	f.ledger.shortProduct = "Y"
	ev := Event{Type: EventSaleCompleted, From: "A", To: "B", Reference: "DN-7",
		Lines: []Line{{ProductID: "X", Quantity: 2}, {ProductID: "Y", Quantity: 2}}}

	for attempt := 0; attempt < 2; attempt++ {
		wf, err := f.engine.Propagate(ctx, ev)
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
		require.Equal(t, WorkflowCompensated, wf.Status)
	}

	f.ledger.shortProduct = ""
	wf, err := f.engine.Propagate(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, wf.Status)
	require.InDelta(t, 8.0, f.position(t, "A", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 8.0, f.position(t, "A", "Y").QtyOnHand, 0.0001)
	require.InDelta(t, 2.0, f.position(t, "B", "X").QtyOnHand, 0.0001)
	require.InDelta(t, 2.0, f.position(t, "B", "Y").QtyOnHand, 0.0001)

	_, err = f.engine.Propagate(ctx, ev)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

// saveFailingStore fails the n-th Save call once.
type saveFailingStore struct {
	*MemoryStore
	failAt int
	saves  int
}

func (s *saveFailingStore) Save(ctx context.Context, wf Workflow) error {
	s.saves++
	if s.saves == s.failAt {
		return errTransient
	}
	return s.MemoryStore.Save(ctx, wf)
}

func TestRecoverDoesNotRepeatLoanCounters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, "A", "X", 10, 3)
	// Steps are debit, credit, loan; the marker after the loan is lost.
	store := &saveFailingStore{MemoryStore: NewMemoryStore(), failAt: 3}
	engine := NewEngine(f.ledger, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	wf, err := engine.Propagate(ctx, Event{Type: EventLoanCreated, From: "A", To: "B", Reference: "LN-9",
		Lines: []Line{{ProductID: "X", Quantity: 2}}})
	require.ErrorIs(t, err, errTransient)
	require.Len(t, wf.Steps, 3)

	wf, err = engine.Recover(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, wf.Status)

	lender := f.position(t, "A", "X")
	borrower := f.position(t, "B", "X")
	require.InDelta(t, 8.0, lender.QtyOnHand, 0.0001)
	require.InDelta(t, 2.0, lender.QtyLent, 0.0001)
	require.InDelta(t, 2.0, borrower.QtyOnHand, 0.0001)
	require.InDelta(t, 2.0, borrower.QtyBorrowed, 0.0001)
}

func TestPlan(t *testing.T) {
	from, to, err := Plan(Event{Type: EventSaleReverted, From: "seller", To: "buyer"})
	require.NoError(t, err)
	require.Equal(t, "buyer", from)
	require.Equal(t, "seller", to)

	from, to, err = Plan(Event{Type: EventTransferCompleted, From: "s", To: "r"})
	require.NoError(t, err)
	require.Equal(t, "s", from)
	require.Equal(t, "r", to)

	_, _, err = Plan(Event{Type: EventConversion})
	require.ErrorIs(t, err, ErrUnknownEvent)
}
