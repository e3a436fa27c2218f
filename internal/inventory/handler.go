package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-distribution/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// ErrorRules maps inventory errors to problem responses.
var ErrorRules = []httpx.ErrorRule{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Position Not Found"},
	{Target: ErrInsufficientStock, Status: http.StatusUnprocessableEntity, Title: "Insufficient Stock"},
	{Target: ErrInsufficientAllocation, Status: http.StatusUnprocessableEntity, Title: "Insufficient Allocation"},
	{Target: ErrBatchDrift, Status: http.StatusConflict, Title: "Batch Drift"},
	{Target: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Already Posted"},
	{Target: ErrInvalidQuantity, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrInvalidUnitCost, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrInvalidPolicy, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrOwnerProductRequired, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/positions/{owner}", h.listPositions)
	r.Get("/positions/{owner}/{product}", h.getPosition)
	r.Get("/positions/{owner}/{product}/batches", h.listBatches)
	r.Get("/movements", h.listMovements)
	r.Post("/allocations", h.allocate)
	r.Post("/deallocations", h.deallocate)
}

// reservationRequest moves quantity between available and allocated. Stock
// itself changes only through the movement engine.
type reservationRequest struct {
	OwnerID   string  `json:"owner_id" validate:"required"`
	ProductID string  `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	Reference string  `json:"reference" validate:"max=120"`
}

func (h *Handler) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.service.ListPositions(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		h.fail(w, "list positions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, positions)
}

func (h *Handler) getPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.service.GetPosition(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "product"))
	if err != nil {
		h.fail(w, "get position", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pos)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListBatches(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "product"))
	if err != nil {
		h.fail(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	moves, err := h.service.ListMovements(r.Context(), MovementFilter{
		OwnerID:   q.Get("owner"),
		ProductID: q.Get("product"),
		Reference: q.Get("reference"),
		Limit:     limit,
	})
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, moves)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.service.Allocate)
}

func (h *Handler) deallocate(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.service.Deallocate)
}

func (h *Handler) reservation(w http.ResponseWriter, r *http.Request, apply func(context.Context, ReservationInput) (Position, error)) {
	var req reservationRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pos, err := apply(r.Context(), ReservationInput{
		OwnerID:   req.OwnerID,
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Reference: req.Reference,
	})
	if err != nil {
		h.fail(w, "reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pos)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn("inventory request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorRules...)
}
