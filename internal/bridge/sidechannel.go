package bridge

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	// ServiceName identifies the bridge in health responses.
	ServiceName = "mcpgate-bridge"
	// StatusHealthy is the status a serving bridge reports.
	StatusHealthy = "healthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status               string    `json:"status"`
	Service              string    `json:"service"`
	AuthenticatedClients int       `json:"authenticatedClients"`
	// ExpiredSessions counts sessions closed by the auth deadline or the
	// idle sweep since start.
	ExpiredSessions      int64     `json:"expiredSessions"`
	Timestamp            time.Time `json:"timestamp"`
}

// ConfigResponse is the body of GET /config.
type ConfigResponse struct {
	WebSocketURL string `json:"websocketUrl"`
	AuthToken    string `json:"authToken"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:               StatusHealthy,
		Service:              ServiceName,
		AuthenticatedClients: s.registry.CountAuthenticated(),
		ExpiredSessions:      s.expired.Load(),
		Timestamp:            s.clock.Now().UTC(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ConfigResponse{
		WebSocketURL: s.WebSocketURL(),
		AuthToken:    s.auth.Token(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
