package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthResponse reports process liveness
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	version string
}

// NewHealthHandler creates the handler
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Check responds with liveness information
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}
