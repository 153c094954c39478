package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"fundraiser/controllers"
	"fundraiser/middleware"
)

// SetDonationRoutes registers the public donation flow and returns the
// limiter cleanups to run periodically.
func SetDonationRoutes(api *mux.Router, deps Deps) []func() {
	cfg := deps.Config
	trusted := cfg.HTTP.TrustedProxies()

	ipLimiter := middleware.NewIPRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow, trusted, deps.Redis, deps.Logger)
	// Provider retries must not be starved; whitelisted addresses skip the limit.
	webhookLimiter := middleware.NewWebhookLimiter(cfg.HTTP.CallbackRateLimit, cfg.HTTP.RateWindow, cfg.Mpesa.CallbackWhitelist(), trusted)

	donations := controllers.NewDonationController(deps.Store, deps.Initiator, deps.Reconciler, deps.Logger)
	projects := controllers.NewProjectController(deps.Store, deps.Logger)

	api.Handle("/projects", ipLimiter.Middleware(http.HandlerFunc(projects.ListProjects))).Methods(http.MethodGet)
	api.Handle("/donations", ipLimiter.Middleware(http.HandlerFunc(donations.CreateDonation))).Methods(http.MethodPost)
	api.Handle("/donations/{id}", ipLimiter.Middleware(http.HandlerFunc(donations.GetDonation))).Methods(http.MethodGet)
	api.Handle("/payments/{id}/status", ipLimiter.Middleware(http.HandlerFunc(donations.PaymentStatus))).Methods(http.MethodGet)

	// M-Pesa result callback
	api.Handle(callbackRoute(cfg.Mpesa.CallbackPath), webhookLimiter.Middleware(http.HandlerFunc(donations.MpesaCallback))).Methods(http.MethodPost)

	return []func(){ipLimiter.Cleanup, webhookLimiter.Cleanup}
}

// callbackRoute turns the configured callback path into a path relative to
// the /api subrouter.
func callbackRoute(path string) string {
	const prefix = "/api"
	if path == "" {
		return "/mpesa/callback"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	if len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/" {
		return path[len(prefix):]
	}
	return path
}
