package httpapi

import (
	"errors"
	"net/http"
)

type rewardRequest struct {
	Text                  string `json:"text"`
	PreviousAction        string `json:"previous_action"`
	ConversationContinued *bool  `json:"conversation_continued"`
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	if s.reward == nil {
		respondError(w, http.StatusNotFound, "reward_disabled", "reward scoring is not enabled")
		return
	}
	var req rewardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// A reply counts as continuing unless the client says otherwise.
	continued := true
	if req.ConversationContinued != nil {
		continued = *req.ConversationContinued
	}
	respondJSON(w, http.StatusOK, s.reward.Evaluate(r.Context(), req.Text, req.PreviousAction, continued))
}
