package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redis "github.com/redis/go-redis/v9"

	"fundraiser/config"
	"fundraiser/controllers"
	"fundraiser/store"
	"fundraiser/utils"
)

// Deps is everything the HTTP surface needs. Redis may be nil.
type Deps struct {
	Config     config.Config
	Store      store.DonationStore
	Initiator  controllers.PaymentInitiator
	Reconciler controllers.CallbackReconciler
	Tokens     *utils.TokenIssuer
	Redis      redis.UniversalClient
	Logger     *slog.Logger
}

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// InitRouter builds the router. Limiter state is pruned until ctx is done.
func InitRouter(ctx context.Context, deps Deps) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := mux.NewRouter()

	r.Handle("/health", controllers.HealthHandler(deps.Store)).Methods(http.MethodGet)

	origins := deps.Config.HTTP.AllowedOrigins()
	if len(origins) == 0 && deps.Config.Development() {
		origins = []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:3000", "http://127.0.0.1:5173"}
	}
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"}),
			handlers.AllowCredentials(),
			handlers.OptionStatusCode(http.StatusNoContent),
		)(next)
	})

	api := r.PathPrefix("/api").Subrouter()

	// Catch-all OPTIONS route so preflights reach the CORS middleware, which
	// answers them.
	api.PathPrefix("/").HandlerFunc(optionsHandler).Methods(http.MethodOptions)

	cleanups := SetDonationRoutes(api, deps)
	cleanups = append(cleanups, SetAdminRoutes(api, deps)...)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, fn := range cleanups {
					fn()
				}
			}
		}
	}()

	return r
}
