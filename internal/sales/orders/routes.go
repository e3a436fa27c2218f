package orders

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Show)
	r.Post("/orders", h.Create)
	r.Post("/orders/{id}/submit", h.action("submit order", (*Service).Submit))
	r.Post("/orders/{id}/approve", h.action("approve order", (*Service).Approve))
	r.Post("/orders/{id}/cancel", h.action("cancel order", (*Service).Cancel))
}
