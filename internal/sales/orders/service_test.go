package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

func newTestService() (*Service, *shared.MemoryApprovalRecorder) {
	approvals := shared.NewMemoryApprovalRecorder()
	return NewService(NewMemoryRepository(), approvals, slog.New(slog.NewTextHandler(io.Discard, nil))), approvals
}

func sampleRequest() CreateSalesOrderRequest {
	return CreateSalesOrderRequest{
		SellerID:   "distributor",
		CustomerID: "shop",
		Lines: []CreateSalesOrderLineReq{
			{ProductID: "SOAP", ProductName: "Soap", Quantity: 3, UnitPrice: 2.5},
			{ProductID: "RICE", ProductName: "Rice", Quantity: 1.5, UnitPrice: 10.1},
		},
	}
}

func TestOrderLifecycle(t *testing.T) {
	svc, approvals := newTestService()
	ctx := shared.ContextWithActor(context.Background(), 3)

	order, err := svc.Create(ctx, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusDraft, order.Status)
	require.Equal(t, "SO-0001", order.DocNumber)
	require.Equal(t, int64(3), order.CreatedBy)
	require.Equal(t, "22.65", order.Total().StringFixed(2))

	order, err = svc.Submit(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusSubmitted, order.Status)

	order, err = svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusApproved, order.Status)
	require.NotNil(t, order.ApprovedAt)

	_, err = svc.Cancel(ctx, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	logs, err := approvals.List(ctx, document, order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, int64(3), logs[1].ActorID)
}

func TestOrderTransitionsRejectSkippingSubmit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	order, err := svc.Create(ctx, sampleRequest())
	require.NoError(t, err)

	_, err = svc.Approve(ctx, order.ID)
	var terr *shared.TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "approve", terr.Action)
	require.Equal(t, "SO-0001", terr.ID)

	cancelled, err := svc.Cancel(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, SalesOrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = svc.Submit(ctx, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Submit(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req := sampleRequest()
	req.CustomerID = req.SellerID
	_, err := svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrInvalidOrder)

	req = sampleRequest()
	req.Lines[1].Quantity = 0
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrInvalidOrder)
	require.Contains(t, err.Error(), "line 2")

	req = sampleRequest()
	req.Lines = nil
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, ErrInvalidOrder)

	out, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestOrderHandler(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	h.MountRoutes(r)

	body, err := json.Marshal(sampleRequest())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created SalesOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+created.ID.String()+"/approve", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid Transition")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"seller_id":"a","customer_id":"a","lines":[]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
