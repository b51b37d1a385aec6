package handler

import "net/http"

// WatcherCounter reports how many QR watchers are currently mounted.
type WatcherCounter interface {
	Active() int
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	upstream string
	watchers WatcherCounter
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(upstream string, watchers WatcherCounter) *HealthHandler {
	return &HealthHandler{upstream: upstream, watchers: watchers}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"upstream": h.upstream,
		"watchers": h.watchers.Active(),
	})
}
