package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-distribution/internal/ar"
	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
	"github.com/odyssey-erp/odyssey-distribution/internal/movement"
	"github.com/odyssey-erp/odyssey-distribution/internal/sales/orders"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

var errTransient = errors.New("connection reset by peer")

type flakyLedger struct {
	*inventory.Service
	failCredits int
}

func (f *flakyLedger) Credit(ctx context.Context, in inventory.CreditInput) (inventory.Position, error) {
	if f.failCredits > 0 {
		f.failCredits--
		return inventory.Position{}, errTransient
	}
	return f.Service.Credit(ctx, in)
}

type flakyReceivables struct {
	*ar.Service
	fail int
}

func (f *flakyReceivables) CreateReceivable(ctx context.Context, in ar.CreateReceivableInput) (ar.Receivable, error) {
	if f.fail > 0 {
		f.fail--
		return ar.Receivable{}, errTransient
	}
	return f.Service.CreateReceivable(ctx, in)
}

type fixture struct {
	svc         *Service
	repo        *MemoryRepository
	ledger      *flakyLedger
	orders      *orders.Service
	receivables *flakyReceivables
	approvals   *shared.MemoryApprovalRecorder
	clock       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	approvals := shared.NewMemoryApprovalRecorder()
	inv := inventory.NewService(inventory.NewMemoryRepository(), nil, shared.NewMemoryIdempotencyStore(), inventory.ServiceConfig{})
	f := &fixture{
		repo:        NewMemoryRepository(),
		ledger:      &flakyLedger{Service: inv},
		orders:      orders.NewService(orders.NewMemoryRepository(), approvals, logger),
		receivables: &flakyReceivables{Service: ar.NewService(ar.NewMemoryRepository(), nil, approvals, logger)},
		approvals:   approvals,
		clock:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	engine := movement.NewEngine(f.ledger, movement.NewMemoryStore(), nil, logger)
	f.svc = NewService(f.repo, f.orders, engine, f.receivables, approvals, ServiceConfig{}, logger)
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) stock(t *testing.T, owner, product string, qty, cost float64) {
	t.Helper()
	_, err := f.ledger.Service.Credit(context.Background(), inventory.CreditInput{OwnerID: owner, ProductID: product, Qty: qty, UnitCost: cost})
	require.NoError(t, err)
}

func (f *fixture) onHand(t *testing.T, owner, product string) float64 {
	t.Helper()
	pos, err := f.ledger.Service.GetPosition(context.Background(), owner, product)
	if errors.Is(err, inventory.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return pos.QtyOnHand
}

// approvedOrder sells 10 SOAP at 2.50 and 4 RICE at 12.25 from distributor to shop.
func (f *fixture) approvedOrder(t *testing.T) orders.SalesOrder {
	t.Helper()
	ctx := context.Background()
	order, err := f.orders.Create(ctx, orders.CreateSalesOrderRequest{
		SellerID:   "distributor",
		CustomerID: "shop",
		Lines: []orders.CreateSalesOrderLineReq{
			{ProductID: "SOAP", ProductName: "Soap", Quantity: 10, UnitPrice: 2.5},
			{ProductID: "RICE", ProductName: "Rice", Quantity: 4, UnitPrice: 12.25},
		},
	})
	require.NoError(t, err)
	_, err = f.orders.Submit(ctx, order.ID)
	require.NoError(t, err)
	order, err = f.orders.Approve(ctx, order.ID)
	require.NoError(t, err)
	return order
}

func (f *fixture) pendingNote(t *testing.T) DeliveryNote {
	t.Helper()
	order := f.approvedOrder(t)
	note, err := f.svc.Create(context.Background(), CreateDeliveryNoteRequest{SalesOrderID: order.ID})
	require.NoError(t, err)
	return note
}

func TestWarehouseApproveMovesStockAndBillsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := shared.ContextWithActor(context.Background(), 9)
	f.stock(t, "distributor", "SOAP", 20, 1)
	f.stock(t, "distributor", "RICE", 10, 8)

	note := f.pendingNote(t)
	require.Equal(t, "DN-0001", note.DocNumber)
	require.Len(t, note.Lines, 2)
	require.Equal(t, "74.00", note.Total().StringFixed(2))

	approved, err := f.svc.WarehouseApprove(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusWarehouseApproved, approved.Status)
	require.NotNil(t, approved.WorkflowID)
	require.NotNil(t, approved.ReceivableID)
	require.NotNil(t, approved.ApprovedAt)

	require.InDelta(t, 10.0, f.onHand(t, "distributor", "SOAP"), 0.0001)
	require.InDelta(t, 10.0, f.onHand(t, "shop", "SOAP"), 0.0001)
	require.InDelta(t, 4.0, f.onHand(t, "shop", "RICE"), 0.0001)

	rec, err := f.receivables.GetReceivableByDelivery(ctx, note.DocNumber)
	require.NoError(t, err)
	require.Equal(t, *approved.ReceivableID, rec.ID)
	require.Equal(t, "74.00", rec.Total.StringFixed(2))
	require.Equal(t, "shop", rec.CustomerID)
	require.Equal(t, "distributor", rec.SellerID)

	_, err = f.svc.WarehouseApprove(ctx, note.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.InDelta(t, 10.0, f.onHand(t, "distributor", "SOAP"), 0.0001)

	delivered, err := f.svc.Deliver(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	logs, err := f.approvals.List(ctx, document, note.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, shared.ApprovalApprove, logs[0].Action)
	require.Equal(t, string(NoteStatusWarehouseApproved), logs[0].To)
	require.Equal(t, shared.ApprovalDeliver, logs[1].Action)
	require.Equal(t, int64(9), logs[1].ActorID)
}

func TestWarehouseApproveInsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, "distributor", "SOAP", 20, 1)
	f.stock(t, "distributor", "RICE", 1, 8)
	note := f.pendingNote(t)

	_, err := f.svc.WarehouseApprove(ctx, note.ID)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusPending, got.Status)
	require.Nil(t, got.WorkflowID)
	require.Nil(t, got.ReceivableID)

	_, err = f.receivables.GetReceivableByDelivery(ctx, note.DocNumber)
	require.ErrorIs(t, err, ar.ErrNotFound)
	require.InDelta(t, 20.0, f.onHand(t, "distributor", "SOAP"), 0.0001)
	require.InDelta(t, 0.0, f.onHand(t, "shop", "SOAP"), 0.0001)
}

func TestCreateRequiresApprovedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateDeliveryNoteRequest{SalesOrderID: uuid.New()})
	require.ErrorIs(t, err, ErrOrderNotFound)

	draft, err := f.orders.Create(ctx, orders.CreateSalesOrderRequest{
		SellerID: "distributor", CustomerID: "shop",
		Lines: []orders.CreateSalesOrderLineReq{{ProductID: "SOAP", Quantity: 1, UnitPrice: 1}},
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateDeliveryNoteRequest{SalesOrderID: draft.ID})
	require.ErrorIs(t, err, ErrOrderNotApproved)
}

func TestCreatePartialNotesWithinOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.approvedOrder(t)

	first, err := f.svc.Create(ctx, CreateDeliveryNoteRequest{SalesOrderID: order.ID,
		Lines: []CreateDeliveryNoteLineReq{{ProductID: "SOAP", Quantity: 6}}})
	require.NoError(t, err)
	require.Equal(t, "15.00", first.Total().StringFixed(2))
	require.Equal(t, "Soap", first.Lines[0].ProductName)

	_, err = f.svc.Create(ctx, CreateDeliveryNoteRequest{SalesOrderID: order.ID,
		Lines: []CreateDeliveryNoteLineReq{{ProductID: "SOAP", Quantity: 5}}})
	require.ErrorIs(t, err, ErrExceedsOrder)

	_, err = f.svc.Create(ctx, CreateDeliveryNoteRequest{SalesOrderID: order.ID,
		Lines: []CreateDeliveryNoteLineReq{{ProductID: "OIL", Quantity: 1}}})
	require.ErrorIs(t, err, ErrInvalidNote)

	_, err = f.svc.Cancel(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateDeliveryNoteRequest{SalesOrderID: order.ID,
		Lines: []CreateDeliveryNoteLineReq{{ProductID: "SOAP", Quantity: 10}}})
	require.NoError(t, err)
}

func TestWarehouseApproveRejectsMissingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := DeliveryNote{
		ID: uuid.New(), DocNumber: "DN-0042", SalesOrderID: uuid.New(), SellerID: "distributor",
		CustomerID: "shop", Status: NoteStatusPending,
		Lines: []DeliveryNoteLine{{LineOrder: 1, ProductID: "SOAP", Quantity: 1, UnitPrice: 1}},
	}
	require.NoError(t, f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, note)
	}))

	_, err := f.svc.WarehouseApprove(ctx, note.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.WarehouseApprove(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResumeAfterReceivableFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, "distributor", "SOAP", 20, 1)
	f.stock(t, "distributor", "RICE", 10, 8)
	note := f.pendingNote(t)
	f.receivables.fail = 1

	_, err := f.svc.WarehouseApprove(ctx, note.ID)
	require.ErrorIs(t, err, errTransient)

	half, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusPending, half.Status)
	require.NotNil(t, half.WorkflowID)
	require.Nil(t, half.ReceivableID)
	require.InDelta(t, 10.0, f.onHand(t, "shop", "SOAP"), 0.0001)

	_, err = f.svc.Cancel(ctx, note.ID)
	require.ErrorIs(t, err, ErrApprovalInFlight)

	resumed, err := f.svc.ResumeStalled(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	done, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusWarehouseApproved, done.Status)
	require.Equal(t, *half.WorkflowID, *done.WorkflowID)
	require.NotNil(t, done.ReceivableID)
	require.InDelta(t, 10.0, f.onHand(t, "shop", "SOAP"), 0.0001)
	require.InDelta(t, 10.0, f.onHand(t, "distributor", "SOAP"), 0.0001)

	resumed, err = f.svc.ResumeStalled(ctx, 0, 10)
	require.NoError(t, err)
	require.Zero(t, resumed)
}

func TestResumeFinishesRunningWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, "distributor", "SOAP", 20, 1)
	f.stock(t, "distributor", "RICE", 10, 8)
	note := f.pendingNote(t)
	f.ledger.failCredits = 1

	_, err := f.svc.WarehouseApprove(ctx, note.ID)
	require.ErrorIs(t, err, errTransient)

	half, err := f.svc.Get(ctx, note.ID)
	require.NoError(t, err)
	require.NotNil(t, half.WorkflowID)
	require.InDelta(t, 0.0, f.onHand(t, "shop", "SOAP"), 0.0001)

	done, err := f.svc.Resume(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusWarehouseApproved, done.Status)
	require.InDelta(t, 10.0, f.onHand(t, "distributor", "SOAP"), 0.0001)
	require.InDelta(t, 10.0, f.onHand(t, "shop", "SOAP"), 0.0001)
	require.InDelta(t, 6.0, f.onHand(t, "distributor", "RICE"), 0.0001)
	require.InDelta(t, 4.0, f.onHand(t, "shop", "RICE"), 0.0001)

	again, err := f.svc.Resume(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusWarehouseApproved, again.Status)
}

func TestCancelApprovedNoteRevertsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, "distributor", "SOAP", 20, 1)
	f.stock(t, "distributor", "RICE", 10, 8)
	note := f.pendingNote(t)
	_, err := f.svc.WarehouseApprove(ctx, note.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ReversalWorkflowID)
	require.InDelta(t, 20.0, f.onHand(t, "distributor", "SOAP"), 0.0001)
	require.InDelta(t, 0.0, f.onHand(t, "shop", "SOAP"), 0.0001)
	require.InDelta(t, 10.0, f.onHand(t, "distributor", "RICE"), 0.0001)

	_, err = f.svc.Cancel(ctx, note.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.Deliver(ctx, note.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	logs, err := f.approvals.List(ctx, document, note.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, string(NoteStatusWarehouseApproved), logs[1].From)
}

func TestCancelPendingNoteMovesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, "distributor", "SOAP", 20, 1)
	note := f.pendingNote(t)

	cancelled, err := f.svc.Cancel(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, NoteStatusCancelled, cancelled.Status)
	require.Nil(t, cancelled.ReversalWorkflowID)
	require.InDelta(t, 20.0, f.onHand(t, "distributor", "SOAP"), 0.0001)

	_, err = f.svc.WarehouseApprove(ctx, note.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}
