package api

import (
	"encoding/json"
	"net/http"
)

// diagnosticSink returns a fire-and-forget handler that logs whatever
// JSON body the client sent under the given event name and always
// answers 204 — these are best-effort client telemetry, never a source
// of request failure.
func (s *Server) diagnosticSink(event string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&payload)
		}
		s.Log.Debug().Str("event", event).Interface("payload", payload).Msg("diagnostic chunk received")
		w.WriteHeader(http.StatusNoContent)
	}
}
