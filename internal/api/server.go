// Package api serves the admin HTTP API and the MCP tool server.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/bazar/internal/catalog"
	"github.com/kalambet/bazar/internal/dialogue"
	"github.com/kalambet/bazar/internal/metrics"
	"github.com/kalambet/bazar/internal/storage"
)

const maxRequestBodySize = 1 << 20

var validate = validator.New()

// AppDeps holds what the HTTP handlers need.
type AppDeps struct {
	Store      storage.Store
	Catalog    *catalog.Catalog
	Dispatcher *dialogue.Dispatcher
	Token      string
	Logger     *slog.Logger
}

// NewHandler returns the admin API router. /health and /metrics are public;
// everything under /v1 requires the bearer token when one is configured.
func NewHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTP)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/categories", handleCategories(deps))
		r.Get("/listings", handleListListings(deps))
		r.Get("/listings/{id}", handleGetListing(deps))
		r.Patch("/listings/{id}", handlePatchListing(deps))
		r.Get("/users/{userID}/listings", handleUserListings(deps))
		r.Get("/actions", handleActions(deps))
		r.Post("/events", handleEvent(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
