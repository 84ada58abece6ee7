package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/api"
	"github.com/snarg/whisper-relay/internal/auth"
	"github.com/snarg/whisper-relay/internal/authz"
	"github.com/snarg/whisper-relay/internal/broker"
	"github.com/snarg/whisper-relay/internal/clients"
	"github.com/snarg/whisper-relay/internal/config"
	"github.com/snarg/whisper-relay/internal/conversations"
	"github.com/snarg/whisper-relay/internal/metrics"
	"github.com/snarg/whisper-relay/internal/profiles"
	"github.com/snarg/whisper-relay/internal/pushclient"
	"github.com/snarg/whisper-relay/internal/store"
	"github.com/snarg/whisper-relay/internal/tokenminter"
	"github.com/snarg/whisper-relay/internal/transcription"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.StoreURL, "store-url", "", "Store connection URL (overrides REDISCLOUD_URL)")
	flag.StringVar(&overrides.BrokerURL, "broker-url", "", "Broker connection URL (overrides BROKER_URL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("whisper-relay starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeLog := log.With().Str("component", "store").Logger()
	st, err := store.Connect(ctx, cfg.StoreURL, cfg.KeyPrefix, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to store")
	}
	defer st.Close()

	brokerLog := log.With().Str("component", "broker").Logger()
	serverID := fmt.Sprintf("whisper-relay-%d", os.Getpid())
	brk, err := broker.Connect(broker.Options{
		BrokerURL: cfg.BrokerURL,
		ClientID:  serverID,
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
		Log:       brokerLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer brk.Close()

	apnsKey, err := auth.ParseAPNSKey(cfg.APNSCredSecretPKCS8)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse apns credential")
	}

	clientsRegistry := clients.New(st, log.With().Str("component", "clients").Logger())
	conversationsRegistry := conversations.New(st, log.With().Str("component", "conversations").Logger())
	authzCache := authz.New(st, cfg.WhisperMarkTTL, cfg.ListenMarkTTL, log.With().Str("component", "authz").Logger())
	profilesRegistry := profiles.New(st, log.With().Str("component", "profiles").Logger())
	minter := tokenminter.New(cfg.BrokerKey)
	pusher := pushclient.New(cfg.APNSServer, cfg.APNSTopic, log.With().Str("component", "pushclient").Logger())

	engine := transcription.NewEngine(st, brk, serverID, transcription.Options{
		OverlapWindow:  cfg.TranscriptOverlap,
		TranscriptTTL:  cfg.TranscriptTTL,
		ResumePoll:     cfg.ResumePopTimeout,
		SuspendWait:    cfg.SuspendDrainWait,
		LookbackWindow: cfg.TranscriptLookback,
	}, log.With().Str("component", "transcription").Logger())

	if cfg.MetricsEnabled {
		prometheus.MustRegister(metrics.NewCollector(st, engine))
	}

	go engine.ResumeTranscriptions(ctx)

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(&api.Server{
		Log:           httpLog,
		Config:        cfg,
		Clients:       clientsRegistry,
		Profiles:      profilesRegistry,
		Conversations: conversationsRegistry,
		Authz:         authzCache,
		TokenMinter:   minter,
		Push:          pusher,
		Transcription: engine,
		APNSKey:       apnsKey,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("whisper-relay ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	engine.SuspendTranscriptions(shutdownCtx)

	log.Info().Msg("whisper-relay stopped")
}
