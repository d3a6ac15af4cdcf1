package handlers

import (
	"net/http"

	"spotfinder/config"
	"spotfinder/middleware"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// NewRouter mounts the API behind logging, rate limiting, API key checks and CORS
func NewRouter(h *Handlers, server config.ServerConfig, api config.APIConfig, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.RateLimitMiddleware(api.RateLimitPerMinute))

	// Health endpoint (no auth required)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(middleware.APIKeyMiddleware(api.Keys, api.RequireKey))

	// Spot lookups
	apiV1.HandleFunc("/spot", h.FindSpot).Methods("POST")
	apiV1.HandleFunc("/spot", h.FindSpotQuery).Methods("GET")
	apiV1.HandleFunc("/spot/async", h.FindSpotAsync).Methods("POST")

	// Task management
	apiV1.HandleFunc("/tasks/stats", h.GetTaskStats).Methods("GET")
	apiV1.HandleFunc("/tasks/{taskId}", h.GetTaskStatus).Methods("GET")

	// Tracked searches
	apiV1.HandleFunc("/tracked", h.AddTrackedSearch).Methods("POST")
	apiV1.HandleFunc("/tracked", h.GetTrackedSearches).Methods("GET")
	apiV1.HandleFunc("/tracked/{id}", h.DeleteTrackedSearch).Methods("DELETE")
	apiV1.HandleFunc("/tracked/{id}/history", h.GetSpotHistory).Methods("GET")
	apiV1.HandleFunc("/tracked/{id}/check", h.CheckTrackedNow).Methods("POST")

	allowedOrigins := server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}
