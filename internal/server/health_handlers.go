package server

import (
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	Uptime        string                 `json:"uptime"`
	Catalog       string                 `json:"catalog"`
	Player        string                 `json:"player"`
	Tracks        int                    `json:"trackCount"`
	ActiveSources int                    `json:"activeSources"`
	Visualizer    bool                   `json:"visualizerActive"`
	PublicURL     string                 `json:"publicUrl,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck reports liveness, catalog reachability and the player's
// resource state. More than one active source is unhealthy.
func (ss *SiteServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(ss.startedAt).Round(time.Second).String(),
		Catalog:   "ok",
		Player:    "disabled",
		PublicURL: ss.ngrokService.PublicURL(),
		Details:   make(map[string]interface{}),
	}

	tracks, err := ss.catalog.Tracks(r.Context())
	if err != nil {
		health.Status = "degraded"
		health.Catalog = "error"
		health.Details["catalog_error"] = err.Error()
	} else {
		health.Tracks = len(tracks)
	}

	if ss.player != nil {
		health.Player = "ok"
		health.ActiveSources = ss.player.ActiveSources()
		health.Visualizer = ss.player.Visualizer().Active()
		if health.ActiveSources > 1 {
			health.Status = "unhealthy"
			health.Player = "error"
			health.Details["player_error"] = "more than one active audio source"
		}
		if st := ss.player.State(); st.Error != "" {
			health.Details["last_playback_error"] = st.Error
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-store")
	ss.respondJSON(w, statusCode, health)
}
