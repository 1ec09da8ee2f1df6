package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nixpig/trainworker/internal/jobmanager"
)

// newHTTPHandler serves a read-only view of the Manager for dashboards and
// health checks.
func newHTTPHandler(
	manager *jobmanager.Manager,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-manager.Terminated():
			http.Error(w, "terminated", http.StatusServiceUnavailable)
		default:
			w.Write([]byte("ok\n"))
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(
			workerStatuses(manager.Status()),
		); err != nil {
			logger.Warn("write status response", "err", err)
		}
	})

	return r
}
