package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/auth"
	"github.com/snarg/whisper-relay/internal/tokenminter"
)

type pubSubTokenRequest struct {
	ClientID         string `json:"clientId"`
	Activity         string `json:"activity"` // "publish" or "subscribe"
	ConversationID   string `json:"conversationId"`
	ProfileID        string `json:"profileId"`
	ConversationName string `json:"conversationName"`
	ContentID        string `json:"contentId"`
	Username         string `json:"username"`
	Transcribe       string `json:"transcribe"` // "yes" opts into transcription
}

type tokenRequestResponse struct {
	Status       string `json:"status"`
	TokenRequest string `json:"tokenRequest"`
}

// PubSubTokenRequest implements POST /api/v2/pubSubTokenRequest: verifies
// the caller's client JWT, runs the §4.4 first-publisher-wins claim for a
// publish activity, and mints a capability token scoped to the requested
// channels.
func (s *Server) PubSubTokenRequest(w http.ResponseWriter, r *http.Request) {
	var req pubSubTokenRequest
	if err := DecodeJSON(r, &req); err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "malformed request body")
		return
	}
	if req.ClientID == "" || req.ConversationID == "" || req.ProfileID == "" {
		apierr.WriteError(w, apierr.KindBadInput, "clientId, conversationId and profileId are required")
		return
	}

	client, err := s.authenticateClient(r, req.ClientID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}

	var capabilities map[string][]tokenminter.Capability
	switch req.Activity {
	case "publish":
		capabilities = tokenminter.WhisperCapabilities(req.ConversationID, req.ContentID)
		isNewSession, err := s.Authz.ClaimWhisper(r.Context(), req.ClientID, req.ConversationID, req.ContentID)
		if err != nil {
			apierr.WriteErr(w, err)
			return
		}
		if isNewSession {
			if _, err := s.Conversations.CreateOrUpdate(r.Context(), req.ConversationID, req.ConversationName, req.ProfileID); err != nil {
				apierr.WriteErr(w, err)
				return
			}
			if req.Username != "" {
				if err := s.Profiles.SetUsername(r.Context(), req.ProfileID, req.Username); err != nil {
					apierr.WriteErr(w, err)
					return
				}
			}
			if req.Transcribe == "yes" {
				if _, err := s.Transcription.StartTranscript(r.Context(), req.ConversationID, req.ContentID); err != nil {
					s.Log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("failed to start transcript")
				}
			}
		}
	case "subscribe":
		capabilities = tokenminter.ListenCapabilities(req.ConversationID)
		if err := s.Authz.MarkListen(r.Context(), req.ClientID, req.ConversationID); err != nil {
			s.Log.Warn().Err(err).Str("client_id", req.ClientID).Msg("mark listen failed, continuing")
		}
	default:
		apierr.WriteError(w, apierr.KindBadInput, "activity must be publish or subscribe")
		return
	}

	s.writeMintedToken(w, client.ID, capabilities)
}

// ListenTokenRequest implements GET /api/v2/listenTokenRequest: browser
// listeners carry their identity in the session cookie set by GET
// /listen/:conversationId rather than a bearer JWT.
func (s *Server) ListenTokenRequest(w http.ResponseWriter, r *http.Request) {
	clientID := cookieValue(r, "clientId")
	conversationID := cookieValue(r, "conversationId")
	if clientID == "" || conversationID == "" {
		apierr.WriteError(w, apierr.KindUnauthorized, "missing listener session cookies")
		return
	}
	if err := s.Authz.MarkListen(r.Context(), clientID, conversationID); err != nil {
		s.Log.Warn().Err(err).Str("client_id", clientID).Msg("mark listen failed, continuing")
	}
	s.writeMintedToken(w, clientID, tokenminter.ListenCapabilities(conversationID))
}

func (s *Server) writeMintedToken(w http.ResponseWriter, clientID string, capabilities map[string][]tokenminter.Capability) {
	nonce, err := randomNonce()
	if err != nil {
		apierr.WriteError(w, apierr.KindInternal, "failed to mint token")
		return
	}
	req, err := s.TokenMinter.Mint(clientID, capabilities, time.Now(), nonce)
	if err != nil {
		apierr.WriteError(w, apierr.KindInternal, "failed to sign token request")
		return
	}
	body, err := tokenminter.Marshal(req)
	if err != nil {
		apierr.WriteError(w, apierr.KindInternal, "failed to encode token request")
		return
	}
	WriteJSON(w, http.StatusOK, tokenRequestResponse{Status: "success", TokenRequest: body})
}

// authenticateClient verifies the bearer client JWT against the named
// client's current/last secret pair and ensures the token's issuer
// matches the claimed clientID.
func (s *Server) authenticateClient(r *http.Request, clientID string) (clientRecord, error) {
	token := extractBearerToken(r)
	if token == "" {
		return clientRecord{}, apierr.Forbidden("missing bearer token")
	}
	c, ok, err := s.Clients.Get(r.Context(), clientID)
	if err != nil {
		return clientRecord{}, apierr.Wrap(apierr.KindInternal, "client lookup failed", err)
	}
	if !ok {
		return clientRecord{}, apierr.NotFound("unknown client")
	}
	issuer, _, err := auth.VerifyClientToken(token, c.Secret, c.LastSecret)
	if err != nil {
		return clientRecord{}, apierr.Forbidden("invalid client token")
	}
	if issuer != clientID {
		return clientRecord{}, apierr.Forbidden("token issuer does not match clientId")
	}
	return clientRecord{ID: c.ID, ProfileID: c.ProfileID}, nil
}

type clientRecord struct {
	ID        string
	ProfileID string
}

func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	v := c.Value
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return v
}
