package api

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/authz"
	"github.com/snarg/whisper-relay/internal/clients"
	"github.com/snarg/whisper-relay/internal/config"
	"github.com/snarg/whisper-relay/internal/conversations"
	"github.com/snarg/whisper-relay/internal/metrics"
	"github.com/snarg/whisper-relay/internal/profiles"
	"github.com/snarg/whisper-relay/internal/pushclient"
	"github.com/snarg/whisper-relay/internal/tokenminter"
	"github.com/snarg/whisper-relay/internal/transcription"
)

// Server wires every registry/engine to the chi-routed HTTP surface §6
// describes.
type Server struct {
	http *http.Server
	Log  zerolog.Logger

	Config        *config.Config
	Clients       *clients.Registry
	Profiles      *profiles.Registry
	Conversations *conversations.Registry
	Authz         *authz.Cache
	TokenMinter   *tokenminter.Minter
	Push          *pushclient.Client
	Transcription *transcription.Engine
	APNSKey       *ecdsa.PrivateKey
}

// NewServer builds the router and wraps it in an *http.Server sized from
// Config's timeouts.
func NewServer(s *Server) *Server {
	r := chi.NewRouter()

	var corsOrigins []string
	if s.Config.CORSOrigins != "" {
		for _, o := range strings.Split(s.Config.CORSOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(s.Config.RateLimitRPS, s.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(s.Log))
	if s.Config.MetricsEnabled {
		r.Use(metrics.InstrumentHandler)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(MaxBodySize(1 << 20))
		r.Use(ResponseTimeout(s.Config.WriteTimeout))

		r.Route("/api/v2", func(r chi.Router) {
			r.Post("/apnsToken", s.ApnsToken)
			r.Post("/apnsReceivedNotification", s.ApnsReceivedNotification)
			r.Post("/pubSubTokenRequest", s.PubSubTokenRequest)
			r.Get("/listenTokenRequest", s.ListenTokenRequest)
			r.Post("/conversation", s.Conversation)
			r.Post("/username", s.Username)
			r.Get("/listTranscripts/{clientId}/{conversationId}", s.ListTranscripts)

			for path, kind := range map[string]profiles.Kind{
				"/userProfile":      profiles.KindUser,
				"/whisperProfile":   profiles.KindWhisper,
				"/listenProfile":    profiles.KindListen,
				"/settingsProfile":  profiles.KindSettings,
				"/favoritesProfile": profiles.KindFavorites,
			} {
				h := s.profileHandler(kind)
				r.Get(path, h)
				r.Post(path, h)
				r.Put(path, h)
				r.Get(path+"/{profileId}", h)
				r.Post(path+"/{profileId}", h)
				r.Put(path+"/{profileId}", h)
			}
		})

		r.Get("/listen/{conversationId}", s.Listen)
		r.Get("/listen/{conversationId}/*", s.Listen)
		r.Get("/transcript/{conversationId}/{transcriptId}", s.Transcript)

		r.Post("/logPresenceChunk", s.diagnosticSink("presence_chunk"))
		r.Post("/logAnomaly", s.diagnosticSink("anomaly"))
		r.Post("/logChannelEvent", s.diagnosticSink("channel_event"))
	})

	s.http = &http.Server{
		Addr:         s.Config.HTTPAddr,
		Handler:      r,
		ReadTimeout:  s.Config.ReadTimeout,
		WriteTimeout: s.Config.WriteTimeout,
		IdleTimeout:  s.Config.IdleTimeout,
	}
	return s
}

func (s *Server) Start() error {
	s.Log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
