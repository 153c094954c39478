package controllers

import (
	"context"
	"net/http"
	"time"

	"fundraiser/utils"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports 503 when the store does not answer within two seconds.
func HealthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.APIResponse{
				Success: false,
				Message: "Database unavailable",
				Code:    "STORE_ERROR",
			})
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
			Success: true,
			Message: "OK",
			Data:    map[string]string{"time": time.Now().UTC().Format(timeLayout)},
		})
	}
}
