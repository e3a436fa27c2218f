package hierarchy

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-distribution/internal/platform/httpx"
)

var errorRules = []httpx.ErrorRule{
	{Target: ErrOwnerNotFound, Status: http.StatusNotFound, Title: "Owner Not Found"},
	{Target: ErrHierarchyCycle, Status: http.StatusUnprocessableEntity, Title: "Hierarchy Cycle"},
	{Target: ErrHierarchyTooDeep, Status: http.StatusUnprocessableEntity, Title: "Hierarchy Too Deep"},
	{Target: ErrInvalidOwner, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

// Handler exposes owner hierarchy endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers hierarchy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/owners/{id}", h.putOwner)
	r.Get("/owners/{id}/ancestors", h.ancestors)
	r.Get("/owners/{id}/bottleneck", h.bottleneck)
	r.Post("/owners/{id}/shortages", h.shortages)
}

func (h *Handler) putOwner(w http.ResponseWriter, r *http.Request) {
	var o Owner
	if err := httpx.DecodeJSON(r, &o); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	o.ID = chi.URLParam(r, "id")
	if err := h.service.RegisterOwner(r.Context(), o); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) ancestors(w http.ResponseWriter, r *http.Request) {
	chain, err := h.service.Ancestors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, chain)
}

func (h *Handler) bottleneck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	need, err := strconv.ParseFloat(q.Get("qty"), 64)
	if err != nil || need <= 0 || q.Get("product") == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product and positive qty required")
		return
	}
	b, err := h.service.FindBottleneck(r.Context(), chi.URLParam(r, "id"), q.Get("product"), need)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bottleneck": b})
}

func (h *Handler) shortages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Needs []Need `json:"needs" validate:"required,min=1,dive"`
	}
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ResolveShortages(r.Context(), chi.URLParam(r, "id"), req.Needs)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if h.logger != nil {
		h.logger.Warn("hierarchy request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorRules...)
}
