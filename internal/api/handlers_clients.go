package api

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/auth"
)

type apnsTokenRequest struct {
	ClientID          string `json:"clientId"`
	Token             string `json:"token"`      // base64
	LastSecret        string `json:"lastSecret"` // base64
	UserName          string `json:"userName"`
	AppInfo           string `json:"appInfo"`
	IsPresenceLogging bool   `json:"isPresenceLogging"`
}

// ApnsToken implements POST /api/v2/apnsToken: §4.1's rotation protocol
// end to end, with duplicate-POST suppression and an out-of-band push of
// any freshly rotated secret.
func (s *Server) ApnsToken(w http.ResponseWriter, r *http.Request) {
	var req apnsTokenRequest
	if err := DecodeJSON(r, &req); err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "malformed request body")
		return
	}
	if req.ClientID == "" {
		apierr.WriteError(w, apierr.KindBadInput, "clientId is required")
		return
	}
	tokenHex, err := decodeBase64ToHex(req.Token)
	if err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "token must be base64")
		return
	}
	lastSecretHex, err := decodeBase64ToHex(req.LastSecret)
	if err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "lastSecret must be base64")
		return
	}

	result, err := s.Clients.Onboard(r.Context(), req.ClientID, tokenHex, lastSecretHex, req.AppInfo, req.UserName,
		req.IsPresenceLogging, s.Config.DedupWindow, time.Now(), func() (string, error) { return uuid.NewString(), nil })
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	if result.ReceivedEarlier {
		w.Header().Set("X-Received-Earlier", "1")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if result.DidRotate {
		go s.pushRotatedSecret(result.Client.ID, result.Client.DeviceToken, result.Client.Secret, result.Client.PushRequestID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// pushRotatedSecret delivers a freshly rotated secret via APNS. It runs
// detached from the request: a transient push failure is logged only —
// the rotation itself is never rolled back.
func (s *Server) pushRotatedSecret(clientID, deviceTokenHex, secretHex, pushRequestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secretRaw, err := hex.DecodeString(secretHex)
	if err != nil {
		s.Log.Warn().Err(err).Str("client_id", clientID).Msg("rotated secret is not valid hex, push skipped")
		return
	}
	jwtStr, err := auth.IssueAPNSToken(s.APNSKey, s.Config.APNSTeamID, s.Config.APNSCredID, time.Now())
	if err != nil {
		s.Log.Warn().Err(err).Str("client_id", clientID).Msg("failed to mint apns provider token")
		return
	}
	if _, err := s.Push.Push(ctx, deviceTokenHex, jwtStr, pushRequestID, secretRaw); err != nil {
		s.Log.Warn().Err(err).Str("client_id", clientID).Msg("apns push failed, client will reconcile on next launch")
	}
}

type apnsReceivedRequest struct {
	ClientID   string `json:"clientId"`
	LastSecret string `json:"lastSecret"` // base64
}

// ApnsReceivedNotification implements POST /api/v2/apnsReceivedNotification:
// records that a client has acknowledged its current secret.
func (s *Server) ApnsReceivedNotification(w http.ResponseWriter, r *http.Request) {
	var req apnsReceivedRequest
	if err := DecodeJSON(r, &req); err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "malformed request body")
		return
	}
	if req.ClientID == "" {
		apierr.WriteError(w, apierr.KindBadInput, "clientId is required")
		return
	}
	lastSecretHex, err := decodeBase64ToHex(req.LastSecret)
	if err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "lastSecret must be base64")
		return
	}
	if err := s.Clients.Acknowledge(r.Context(), req.ClientID, lastSecretHex, time.Now()); err != nil {
		apierr.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBase64ToHex(b64 string) (string, error) {
	if b64 == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
