package session

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler exposes the websocket endpoint and connection stats over HTTP.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// HandleSocket upgrades a watch-party connection. The display name is an
// ephemeral per-connection handle; there is no identity beyond it.
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	displayName := r.URL.Query().Get("name")
	if displayName == "" {
		displayName = "anonymous"
	}

	if err := h.registry.Join(w, r, displayName); err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
}

// HandleStats returns the currently connected sessions.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"connections": h.registry.ConnectionCount(),
		"sessions":    h.registry.Sessions(),
	})
}

// RegisterRoutes registers the websocket routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleSocket)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
