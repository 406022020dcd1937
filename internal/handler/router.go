package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/storefront-system/internal/middleware"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// SetupRouter настраивает HTTP-маршруты и middleware сервиса витрины.
// webhookSecret используется для проверки подписи уведомлений провайдера.
func (h *Handler) SetupRouter(webhookSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	signature := custommiddleware.NewSignatureMiddleware(webhookSecret)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)

		r.Post("/invoice", h.CreateInvoice)
		r.Get("/invoice/{invoiceID}/status", h.InvoiceStatus)
		r.Get("/qr/{invoiceID}", h.QRImage)

		r.Group(func(r chi.Router) {
			r.Use(signature.Middleware)

			r.Post("/payment/webhook", h.PaymentWebhook)
			r.Post("/invoice/{invoiceID}/invites", h.ResendInvites)
			r.Get("/invoices", h.ListInvoices)
		})
	})

	r.Get("/health", h.Health)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
