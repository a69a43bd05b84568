package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/kartoved-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса картовед.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/cards", h.CreateCard)
			r.Get("/cards", h.GetCards)
			r.Delete("/cards/{cardID}", h.DeleteCard)
			r.Post("/cards/{cardID}/cashback", h.AddCashbackRate)

			r.Post("/merchant/detect", h.DetectMerchant)

			r.Get("/widget/stats", h.GetWidgetStats)
			r.Post("/widget/use", h.RecordWidgetUse)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
