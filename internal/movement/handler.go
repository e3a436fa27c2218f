package movement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
	"github.com/odyssey-erp/odyssey-distribution/internal/platform/httpx"
)

// ErrorRules maps movement errors to problem responses.
var ErrorRules = append([]httpx.ErrorRule{
	{Target: ErrUnknownEvent, Status: http.StatusBadRequest, Title: "Unknown Event"},
	{Target: ErrInvalidEvent, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrUnbalancedConversion, Status: http.StatusUnprocessableEntity, Title: "Unbalanced Conversion"},
	{Target: ErrWorkflowNotFound, Status: http.StatusNotFound, Title: "Workflow Not Found"},
	{Target: ErrWorkflowClosed, Status: http.StatusConflict, Title: "Workflow Closed"},
}, inventory.ErrorRules...)

// Handler exposes the engine over HTTP.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers movement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/events", h.propagate)
	r.Post("/conversions", h.convert)
	r.Post("/adjustments", h.adjust)
	r.Get("/workflows/{id}", h.getWorkflow)
	r.Post("/workflows/{id}/recover", h.recoverWorkflow)
}

func (h *Handler) propagate(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := httpx.Bind(r, &ev); err != nil {
		httpx.RespondError(w, err)
		return
	}
	wf, err := h.engine.Propagate(r.Context(), ev)
	h.respond(w, "propagate", wf, err)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	var c Conversion
	if err := httpx.Bind(r, &c); err != nil {
		httpx.RespondError(w, err)
		return
	}
	wf, err := h.engine.Convert(r.Context(), c)
	h.respond(w, "convert", wf, err)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var a Adjustment
	if err := httpx.Bind(r, &a); err != nil {
		httpx.RespondError(w, err)
		return
	}
	wf, err := h.engine.Adjust(r.Context(), a)
	h.respond(w, "adjust", wf, err)
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	wf, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, ErrorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, wf)
}

func (h *Handler) recoverWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	wf, err := h.engine.Recover(r.Context(), id)
	h.respond(w, "recover", wf, err)
}

func (h *Handler) respond(w http.ResponseWriter, op string, wf Workflow, err error) {
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("movement request failed", slog.String("op", op), slog.Any("error", err))
		}
		httpx.RespondError(w, err, ErrorRules...)
		return
	}
	httpx.JSON(w, http.StatusCreated, wf)
}
