// Package api provides HTTP handlers for the agent API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grogi/agent-server/internal/config"
	"github.com/grogi/agent-server/internal/graph"
	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/prompts"
	"github.com/grogi/agent-server/internal/store"
)

// Handler serves the chat, title and health endpoints.
type Handler struct {
	repo        store.Repository
	exec        *graph.Executor
	gen         ports.TextGenerator
	pack        *prompts.Pack
	cfg         *config.Config
	rateLimiter *RateLimiter
	model       string
}

// New creates a handler with its dependencies wired.
func New(repo store.Repository, exec *graph.Executor, gen ports.TextGenerator, pack *prompts.Pack, cfg *config.Config, model string) *Handler {
	return &Handler{
		repo:        repo,
		exec:        exec,
		gen:         gen,
		pack:        pack,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(cfg.RatePerMinute, time.Minute),
		model:       model,
	}
}

// RegisterRoutes mounts the agent endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/agent/chat", h.HandleChat)
	r.Get("/agent/chat/ws", h.HandleChatWS)
	r.Post("/agent/title", h.HandleTitle)
	r.Get("/agent/health", h.HandleHealth)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
