package api

import (
	"net/http"

	"github.com/snarg/whisper-relay/internal/apierr"
)

type conversationRequest struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
	OwnerProfileID string `json:"ownerProfileId"`
}

type conversationResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OwnerProfileID string `json:"ownerProfileId"`
}

// Conversation implements POST /api/v2/conversation: creates or updates
// conversation metadata, rejecting an owner change as a conflict.
func (s *Server) Conversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := DecodeJSON(r, &req); err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "malformed request body")
		return
	}
	if req.ConversationID == "" || req.OwnerProfileID == "" {
		apierr.WriteError(w, apierr.KindBadInput, "conversationId and ownerProfileId are required")
		return
	}
	conv, err := s.Conversations.CreateOrUpdate(r.Context(), req.ConversationID, req.Name, req.OwnerProfileID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, conversationResponse{ID: conv.ID, Name: conv.Name, OwnerProfileID: conv.OwnerProfileID})
}

type usernameRequest struct {
	ProfileID string `json:"profileId"`
	Username  string `json:"username"`
}

// Username implements POST /api/v2/username: upserts a profile's display name.
func (s *Server) Username(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := DecodeJSON(r, &req); err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "malformed request body")
		return
	}
	if req.ProfileID == "" {
		apierr.WriteError(w, apierr.KindBadInput, "profileId is required")
		return
	}
	if err := s.Profiles.SetUsername(r.Context(), req.ProfileID, req.Username); err != nil {
		apierr.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
