package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/smsleopard-segments/internal/handler"
)

// NewRouter mounts every HTTP route of the service.
func NewRouter(campaigns *CampaignController, customers *CustomerController, delivery *handler.DeliveryHandler, health *handler.HealthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", health.Health)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/preview", campaigns.PreviewAudience)
		r.Post("/render-preview", campaigns.PersonalizedPreview)
		r.Post("/", campaigns.CreateCampaign)
		r.Get("/", campaigns.ListCampaigns)
		r.Get("/{id}", campaigns.GetCampaignDetails)
	})

	r.Route("/customers", func(r chi.Router) {
		r.Post("/", customers.CreateCustomer)
		r.Post("/bulk", customers.CreateCustomers)
		r.Get("/", customers.ListCustomers)
		r.Get("/{id}", customers.GetCustomer)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", customers.CreateOrder)
		r.Post("/bulk", customers.CreateOrders)
	})

	r.Post("/delivery/receipt", delivery.Receipt)
	return r
}
