package delivery

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/ar"
	"github.com/odyssey-erp/odyssey-distribution/internal/movement"
	"github.com/odyssey-erp/odyssey-distribution/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// ErrorRules maps delivery errors, and the movement and AR errors surfaced
// through approval, to problem responses.
var ErrorRules = append(append([]httpx.ErrorRule{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Delivery Note Not Found"},
	{Target: ErrInvalidNote, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrOrderNotFound, Status: http.StatusUnprocessableEntity, Title: "Sales Order Not Found"},
	{Target: ErrOrderNotApproved, Status: http.StatusUnprocessableEntity, Title: "Sales Order Not Approved"},
	{Target: ErrExceedsOrder, Status: http.StatusUnprocessableEntity, Title: "Exceeds Sales Order"},
	{Target: ErrApprovalInFlight, Status: http.StatusConflict, Title: "Approval In Progress"},
	{Target: shared.ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Transition"},
}, movement.ErrorRules...), ar.ErrorRules...)

// Printer renders a note as a printable document.
type Printer interface {
	RenderNote(ctx context.Context, note DeliveryNote) ([]byte, error)
}

// Handler exposes delivery notes over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	printer Printer
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// WithPrinter enables the packing list endpoint.
func (h *Handler) WithPrinter(p Printer) *Handler {
	h.printer = p
	return h
}

func (h *Handler) packingList(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	note, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get note", err)
		return
	}
	pdf, err := h.printer.RenderNote(r.Context(), note)
	if err != nil {
		h.logger.Error("render packing list", slog.String("note", note.DocNumber), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "packing list could not be rendered")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+note.DocNumber+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		SellerID:   q.Get("seller"),
		CustomerID: q.Get("customer"),
		Status:     NoteStatus(q.Get("status")),
	}
	if raw := q.Get("order"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order must be a uuid")
			return
		}
		filter.SalesOrderID = id
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	out, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list notes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	note, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"note": note, "total": note.Total()})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDeliveryNoteRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, "create note", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) action(op string, fn func(*Service, context.Context, uuid.UUID) (DeliveryNote, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		note, err := fn(h.service, r.Context(), id)
		if err != nil {
			h.fail(w, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, note)
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
	h.logger.Warn("delivery request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err, ErrorRules...)
}
