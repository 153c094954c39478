package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fundraiser/controllers/admins"
	"fundraiser/middleware"
)

// SetAdminRoutes registers admin login and the token protected admin views.
func SetAdminRoutes(api *mux.Router, deps Deps) []func() {
	// Admin login: 5 attempts per IP per minute, on top of the per-account lockout
	adminLoginLimiter := middleware.NewIPRateLimiter(5, time.Minute, deps.Config.HTTP.TrustedProxies(), deps.Redis, deps.Logger)
	lockout := middleware.NewLoginLockout(deps.Redis)

	auth := admins.NewAuthController(deps.Store, deps.Tokens, lockout, deps.Logger)
	api.Handle("/admin/login", adminLoginLimiter.Middleware(http.HandlerFunc(auth.Login))).Methods(http.MethodPost)

	adminRouter := api.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.AdminAuthMiddleware(deps.Tokens, deps.Store))

	donations := admins.NewDonationController(deps.Store, deps.Logger)
	adminRouter.Handle("/donations", http.HandlerFunc(donations.GetDonations)).Methods(http.MethodGet)
	adminRouter.Handle("/donations/{id}", http.HandlerFunc(donations.GetDonation)).Methods(http.MethodGet)

	return []func(){adminLoginLimiter.Cleanup}
}
