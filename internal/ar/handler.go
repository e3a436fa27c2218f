package ar

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// ErrorRules maps AR errors to problem responses.
var ErrorRules = []httpx.ErrorRule{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrReceivableExists, Status: http.StatusConflict, Title: "Receivable Exists"},
	{Target: ErrOverAllocation, Status: http.StatusUnprocessableEntity, Title: "Over Allocation"},
	{Target: ErrCustomerMismatch, Status: http.StatusUnprocessableEntity, Title: "Customer Mismatch"},
	{Target: shared.ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Transition"},
	{Target: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrInvalidReceipt, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrInvalidReceivable, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// Handler wires HTTP endpoints for receivables and receipts.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new AR handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receivables", h.listReceivables)
	r.Get("/receivables/{id}", h.getReceivable)
	r.Get("/aging", h.aging)
	r.Get("/receipts", h.listReceipts)
	r.Post("/receipts", h.createReceipt)
	r.Get("/receipts/{id}", h.getReceipt)
	r.Post("/receipts/{id}/submit", h.receiptAction((*Service).SubmitReceipt))
	r.Post("/receipts/{id}/approve", h.receiptAction((*Service).ApproveReceipt))
	r.Post("/receipts/{id}/cancel", h.receiptAction((*Service).CancelReceipt))
}

func (h *Handler) listReceivables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ReceivableFilter{
		CustomerID:  q.Get("customer"),
		SellerID:    q.Get("seller"),
		Outstanding: q.Get("outstanding") == "true",
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	out, err := h.service.ListReceivables(r.Context(), filter)
	if err != nil {
		h.fail(w, "list receivables", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getReceivable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetReceivable(r.Context(), id)
	if err != nil {
		h.fail(w, "get receivable", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var asOf time.Time
	if raw := q.Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	bucket, err := h.service.Aging(r.Context(), q.Get("customer"), asOf)
	if err != nil {
		h.fail(w, "aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"buckets": bucket, "total": bucket.Total()})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ReceiptFilter{CustomerID: q.Get("customer"), Status: ReceiptStatus(q.Get("status"))}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	out, err := h.service.ListReceipts(r.Context(), filter)
	if err != nil {
		h.fail(w, "list receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var in CreateReceiptInput
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rc, err := h.service.CreateReceipt(r.Context(), in)
	if err != nil {
		h.fail(w, "create receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rc)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rc, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rc)
}

func (h *Handler) receiptAction(fn func(*Service, context.Context, uuid.UUID) (Receipt, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		rc, err := fn(h.service, r.Context(), id)
		if err != nil {
			h.fail(w, "receipt transition", err)
			return
		}
		httpx.JSON(w, http.StatusOK, rc)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("ar request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}
