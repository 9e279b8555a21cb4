package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a chi router with the REST routes, the RPC service
// mounted at rpcPath, health checks and metrics.
func NewRouter(
	couponHandler *CouponHandler,
	healthHandler *HealthHandler,
	rpcPath string,
	rpcHandler http.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Recovery(logger))
	r.Use(RequestLogging(logger))
	r.Use(Metrics)

	// Health check endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/db", healthHandler.Database)
	r.Handle("/metrics", promhttp.Handler())

	// Connect RPC
	r.Handle(rpcPath+"*", rpcHandler)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", couponHandler.CreateCampaign)
		r.Get("/{id}", couponHandler.GetCampaign)
		r.Post("/{id}/deactivate", couponHandler.DeactivateCampaign)
		r.Get("/{id}/discount", couponHandler.GetDiscount)
		r.Post("/{id}/generate", couponHandler.RequestGeneration)
		r.Get("/{id}/stats", couponHandler.GetStats)
	})

	r.Route("/generation-requests", func(r chi.Router) {
		r.Get("/{id}", couponHandler.GetGenerationRequest)
		r.Post("/{id}/cancel", couponHandler.CancelGeneration)
		r.Get("/{id}/codes", couponHandler.ListBatchCodes)
	})

	r.Post("/redeem", couponHandler.Redeem)
	r.Get("/coupon/{code}", couponHandler.GetCouponStatus)

	return r
}
