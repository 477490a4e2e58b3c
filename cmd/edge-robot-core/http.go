package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/edge-robotics/command-core/logger"
	"github.com/edge-robotics/command-core/queue"
	"github.com/edge-robotics/command-core/statestore"
)

// submitResponse is returned by POST /commands.
type submitResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// newRouter builds the HTTP front end: POST /commands enqueues a raw
// command payload, GET /commands/{id}/result polls its terminal result.
// An illustrative front door onto the queue/statestore packages, not a
// replacement for them.
func newRouter(q queue.Queue, store statestore.Store, log logger.Interface) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post("/commands", handleSubmit(q, log))
	r.Get("/commands/{id}/result", handleResult(store))
	r.Get("/healthz", handleHealthz(q))

	return r
}

func handleSubmit(q queue.Queue, log logger.Interface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}

		priority := queue.PriorityNormal
		if p, ok := payload["priority"].(string); ok {
			if parsed, ok := queue.ParsePriority(p); ok {
				priority = parsed
			}
		}

		msg := queue.NewMessage(payload, priority)
		accepted, err := q.Enqueue(r.Context(), msg)
		if err != nil {
			log.Error(r.Context(), "edge-robot-core: enqueue failed: %v", err)
			http.Error(w, "failed to enqueue command", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if !accepted {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusAccepted)
		}
		_ = json.NewEncoder(w).Encode(submitResponse{ID: msg.ID, Accepted: accepted})
	}
}

func handleResult(store statestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		raw, err := store.Get(r.Context(), statestore.ResultKey(id))
		if err == statestore.ErrNotFound {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to read result", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	}
}

func handleHealthz(q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, err := q.HealthCheck(ctx)
		if err != nil || status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(status)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
