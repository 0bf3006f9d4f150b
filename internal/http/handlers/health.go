package handlers

import (
	"net/http"

	"mediarecon/internal/resilience"
)

type healthResponse struct {
	Status   string               `json:"status"`
	Database *resilience.Snapshot `json:"database,omitempty"`
}

// Health reports liveness plus the database breaker position. An open
// breaker degrades the status but still answers 200.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.Breaker != nil {
		snap := a.Breaker.Snapshot()
		resp.Database = &snap
		if snap.State != resilience.StateClosed {
			resp.Status = "degraded"
		}
	}
	a.json(w, http.StatusOK, resp)
}
