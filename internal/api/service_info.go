package api

import (
	"net/http"

	"github.com/seantiz/helix/internal/model"
)

// serviceInfoResponse describes this deployment: which providers are
// configured and which run states the lifecycle can report.
type serviceInfoResponse struct {
	Name      string   `json:"name"`
	Providers []string `json:"providers"`
	RunStates []string `json:"run_states"`
}

func (s *Server) handleServiceInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, serviceInfoResponse{
		Name:      "helix",
		Providers: s.registry.Names(),
		RunStates: model.AllStates(),
	})
}
