package wa

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/api/whatsapp/webhook", h.HandleVerify)
	r.Post("/api/whatsapp/webhook", h.HandleWebhook)
	r.Delete("/api/whatsapp/context/{userID}", h.HandleClearContext)
}
