package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/profiles"
)

type subProfileResponse struct {
	ProfileID string `json:"profileId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	ETag      string `json:"etag"`
}

type profilePutRequest struct {
	Body        string `json:"body"`
	Timestamp   int64  `json:"timestamp"`
	IfNoneMatch string `json:"ifNoneMatch"`
	Password    string `json:"password"`
	Name        string `json:"name"`
}

// profileHandler returns the single GET/POST/PUT handler for one profile Kind,
// bound at registration time so the five {user,whisper,listen,settings,
// favorites}Profile routes share one implementation.
func (s *Server) profileHandler(kind profiles.Kind) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID := chi.URLParam(r, "profileId")
		if profileID == "" {
			profileID = uuid.NewString()
		}

		switch r.Method {
		case http.MethodGet:
			s.getSubProfile(w, r, profileID, kind)
		case http.MethodPost, http.MethodPut:
			s.putSubProfile(w, r, profileID, kind)
		default:
			apierr.WriteErrorWithCode(w, http.StatusMethodNotAllowed, apierr.KindBadInput, "method not allowed")
		}
	}
}

func (s *Server) getSubProfile(w http.ResponseWriter, r *http.Request, profileID string, kind profiles.Kind) {
	profile, found, err := s.Profiles.Get(r.Context(), profileID)
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	if !found {
		apierr.WriteError(w, apierr.KindNotFound, "profile not found")
		return
	}
	if err := s.Profiles.CheckAccess(profile, extractBearerToken(r)); err != nil {
		apierr.WriteErr(w, err)
		return
	}
	sub, ok := profile.SubProfiles[kind]
	if !ok {
		apierr.WriteError(w, apierr.KindNotFound, "sub-profile not found")
		return
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == sub.ETag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	w.Header().Set("ETag", sub.ETag)
	WriteJSON(w, http.StatusOK, subProfileResponse{ProfileID: profileID, Body: sub.Body, Timestamp: sub.Timestamp, ETag: sub.ETag})
}

func (s *Server) putSubProfile(w http.ResponseWriter, r *http.Request, profileID string, kind profiles.Kind) {
	var req profilePutRequest
	if err := DecodeJSON(r, &req); err != nil {
		apierr.WriteError(w, apierr.KindBadInput, "malformed request body")
		return
	}

	password := req.Password
	if password == "" {
		password = extractBearerToken(r)
	}

	// A password on a request against a not-yet-shared profile establishes
	// sharing; subsequent writes must present the same password.
	if password != "" {
		existing, found, err := s.Profiles.Get(r.Context(), profileID)
		if err != nil {
			apierr.WriteErr(w, err)
			return
		}
		if !found || !existing.IsShared() {
			if err := s.Profiles.Share(r.Context(), profileID, password); err != nil {
				apierr.WriteErr(w, err)
				return
			}
		}
	}

	sub, err := s.Profiles.Put(r.Context(), profiles.PutInput{
		ProfileID:       profileID,
		Kind:            kind,
		Body:            req.Body,
		ClientTimestamp: req.Timestamp,
		IfNoneMatch:     req.IfNoneMatch,
		Password:        password,
		Name:            req.Name,
	})
	if err != nil {
		apierr.WriteErr(w, err)
		return
	}
	w.Header().Set("ETag", sub.ETag)
	WriteJSON(w, http.StatusOK, subProfileResponse{ProfileID: profileID, Body: sub.Body, Timestamp: sub.Timestamp, ETag: sub.ETag})
}
