package api

import (
	"net/http"
)

// HealthResponse reports component availability for GET /agent/health.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Search string `json:"search"`
}

// HandleHealth reports readiness. A broken database degrades the status but
// still answers 200 so load balancers can distinguish degraded from dead.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	JSON(w, http.StatusOK, HealthResponse{
		Status: status,
		Model:  h.model,
		Search: "duckduckgo",
	})
}
