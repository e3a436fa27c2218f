package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-distribution/internal/ar"
	"github.com/odyssey-erp/odyssey-distribution/internal/delivery"
	"github.com/odyssey-erp/odyssey-distribution/internal/observability"
	"github.com/odyssey-erp/odyssey-distribution/internal/sales/orders"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func (c apiClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "11")
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func testConfig() *Config {
	return &Config{
		AppEnv:                 "test",
		InventoryDefaultPolicy: "FIFO",
		HierarchyMaxDepth:      32,
		IdempotencyBackend:     "postgres",
		RateLimitPerMinute:     1000,
	}
}

func TestRouterSellDeliverAndCollect(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	services := NewMemoryServices(cfg, logger, metrics)
	api := apiClient{t: t, handler: NewRouter(RouterParams{Logger: logger, Config: cfg, Services: services, Metrics: metrics})}

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/movements/adjustments",
		map[string]any{"owner_id": "distributor", "product_id": "SOAP", "qty": 50, "direction": "IN", "unit_cost": 1.2, "reference": "GRN-1"}, nil))

	var order orders.SalesOrder
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/sales/orders", map[string]any{
		"seller_id": "distributor", "customer_id": "shop",
		"lines": []map[string]any{{"product_id": "SOAP", "product_name": "Soap", "quantity": 20, "unit_price": 2}},
	}, &order))
	require.Equal(t, int64(11), order.CreatedBy)
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/sales/orders/"+order.ID.String()+"/submit", nil, nil))
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/sales/orders/"+order.ID.String()+"/approve", nil, nil))

	var note delivery.DeliveryNote
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/deliveries",
		map[string]any{"sales_order_id": order.ID}, &note))
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/deliveries/"+note.ID.String()+"/approve", nil, &note))
	require.Equal(t, delivery.NoteStatusWarehouseApproved, note.Status)

	var receivables []ar.Receivable
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/ar/receivables?customer=shop", nil, &receivables))
	require.Len(t, receivables, 1)
	require.Equal(t, "40.00", receivables[0].Total.StringFixed(2))

	var receipt ar.Receipt
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/ar/receipts", map[string]any{
		"customer_id": "shop", "receivable_ids": []string{receivables[0].ID.String()}, "amount": "40",
	}, &receipt))
	require.Equal(t, http.StatusUnprocessableEntity, api.do(http.MethodPost, "/api/v1/ar/receipts", map[string]any{
		"customer_id": "shop", "receivable_ids": []string{receivables[0].ID.String()}, "amount": "40.01",
	}, nil))
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/ar/receipts/"+receipt.ID.String()+"/submit", nil, nil))
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/v1/ar/receipts/"+receipt.ID.String()+"/approve", nil, nil))

	var settled ar.Receivable
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/ar/receivables/"+receivables[0].ID.String(), nil, &settled))
	require.Equal(t, ar.ReceivablePaid, settled.Status)

	var shop struct {
		QtyOnHand float64 `json:"qty_on_hand"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/inventory/positions/shop/SOAP", nil, &shop))
	require.InDelta(t, 20.0, shop.QtyOnHand, 0.0001)

	rec := httptest.NewRecorder()
	NewRouter(RouterParams{Logger: logger, Config: cfg, Services: services, Metrics: metrics}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `odyssey_ledger_workflows_total{event="SALE_COMPLETED",status="COMPLETED"} 1`)
	require.Contains(t, rec.Body.String(), "odyssey_ar_payments_total 1")
}

func TestActorMiddleware(t *testing.T) {
	cfg := testConfig()
	handler := NewRouter(RouterParams{Config: cfg, Services: NewMemoryServices(cfg, nil, nil)})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(ActorHeader, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
