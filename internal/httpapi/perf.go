package httpapi

import (
	"net/http"

	"github.com/MrWong99/parley/internal/observe"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, observe.StageSnapshot{Stages: []observe.StageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}
