package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/transcription"
)

type transcriptListEntry struct {
	ID        string `json:"id"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
	Length    int    `json:"length"`
}

// ListTranscripts implements GET /api/v2/listTranscripts/:clientId/:conversationId:
// the authenticated client must own the conversation (via its profile).
func (s *Server) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	conversationID := chi.URLParam(r, "conversationId")

	client, err := s.authenticateClient(r, clientID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	conv, found, err := s.Conversations.Get(r.Context(), conversationID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	if !found {
		apierr.WriteError(w, apierr.KindNotFound, "conversation not found")
		return
	}
	if conv.OwnerProfileID != client.ProfileID {
		apierr.WriteError(w, apierr.KindUnauthorized, "client does not own this conversation")
		return
	}

	transcripts, err := s.Transcription.ListTranscripts(r.Context(), conversationID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	entries := make([]transcriptListEntry, 0, len(transcripts))
	for _, t := range transcripts {
		entries = append(entries, transcriptListEntry{ID: t.ID, StartTime: t.StartTime, Duration: t.Duration, Length: len(t.Text)})
	}
	WriteJSON(w, http.StatusOK, entries)
}

// Listen implements GET /listen/:conversationId: sets the listener's
// session cookies and returns the redirect landing page. The page markup
// itself is boilerplate — only the cookie-setting contract is in scope.
func (s *Server) Listen(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	conv, found, err := s.Conversations.Get(r.Context(), conversationID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	if !found {
		apierr.WriteError(w, apierr.KindNotFound, "conversation not found")
		return
	}

	whispererName := ""
	if owner, ok, err := s.Profiles.Get(r.Context(), conv.OwnerProfileID); err == nil && ok {
		whispererName = owner.Name
	}

	clientID := uuid.NewString()
	clientName := r.URL.Query().Get("name")

	cookies := map[string]string{
		"conversationId":    conv.ID,
		"conversationName":  conv.Name,
		"whispererName":     whispererName,
		"clientId":          clientID,
		"clientName":        clientName,
		"logPresenceChunks": "true",
	}
	for name, value := range cookies {
		http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/", HttpOnly: false})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>%s</title></head><body>Joining %s&hellip;</body></html>`, conv.Name, conv.Name)
}

// Transcript implements GET /transcript/:conversationId/:transcriptId:
// public HTML rendering of a finalized transcript.
func (s *Server) Transcript(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	transcriptID := chi.URLParam(r, "transcriptId")

	t, found, err := s.Transcription.GetTranscript(r.Context(), transcriptID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	if !found || t.ConversationID != conversationID {
		apierr.WriteError(w, apierr.KindNotFound, "transcript not found")
		return
	}

	tz := r.URL.Query().Get("tz")
	if tz == "" {
		tz = "UTC"
	}
	html, err := transcription.RenderHTML(t, tz)
	if err != nil {
		apierr.WriteError(w, apierr.KindInternal, "failed to render transcript")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
