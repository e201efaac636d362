package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// handleHealthz reports liveness plus a store round-trip, so a wedged
// database surfaces here before runs start piling up in QUEUED.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	if _, err := s.store.GetRunStats(r.Context()); err != nil {
		s.logger.Error("healthz store check", "error", err)
		resp.Status = "degraded"
		resp.Store = "unreachable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
