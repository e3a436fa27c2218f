package delivery

import "github.com/go-chi/chi/v5"

// MountRoutes registers delivery note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/deliveries", h.list)
	r.Post("/deliveries", h.create)
	r.Get("/deliveries/{id}", h.show)
	r.Post("/deliveries/{id}/approve", h.action("approve note", (*Service).WarehouseApprove))
	r.Post("/deliveries/{id}/resume", h.action("resume note", (*Service).Resume))
	r.Post("/deliveries/{id}/deliver", h.action("deliver note", (*Service).Deliver))
	r.Post("/deliveries/{id}/cancel", h.action("cancel note", (*Service).Cancel))
	if h.printer != nil {
		r.Get("/deliveries/{id}/packing-list.pdf", h.packingList)
	}
}
