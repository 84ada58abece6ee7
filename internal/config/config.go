package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the server reads at startup. It is immutable
// after Load returns.
type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  string        `env:"CORS_ORIGINS"` // comma-separated allowed origins; empty = allow all (*)

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"true"`

	// Store is the shared KV/list/hash/set backend (Redis-compatible),
	// namespaced so one store can host multiple logical deployments.
	StoreURL  string `env:"REDISCLOUD_URL,required"`
	KeyPrefix string `env:"DB_KEY_PREFIX" envDefault:"whisper"`

	// Broker is the external realtime messaging service clients publish/subscribe on.
	BrokerURL      string `env:"BROKER_URL,required"`
	BrokerUsername string `env:"BROKER_USERNAME"`
	BrokerPassword string `env:"BROKER_PASSWORD"`
	BrokerKey      string `env:"ABLY_PUBLISH_KEY,required"` // signs capability token requests

	// APNS push credentials.
	APNSServer          string `env:"APNS_SERVER" envDefault:"https://api.push.apple.com"`
	APNSCredSecretPKCS8 string `env:"APNS_CRED_SECRET_PKCS8,required"`
	APNSCredID          string `env:"APNS_CRED_ID,required"`
	APNSTeamID          string `env:"APNS_TEAM_ID,required"`
	APNSTopic           string `env:"APNS_TOPIC,required"`

	// Transcription lifecycle tuning.
	TranscriptTTL      time.Duration `env:"TRANSCRIPT_TTL" envDefault:"720h"`    // 30 days
	TranscriptOverlap  time.Duration `env:"TRANSCRIPT_OVERLAP" envDefault:"5s"`  // handoff overlap window
	TranscriptLookback time.Duration `env:"TRANSCRIPT_LOOKBACK" envDefault:"720h"`
	SuspendDrainWait   time.Duration `env:"SUSPEND_DRAIN_WAIT" envDefault:"20s"`
	ResumePopTimeout   time.Duration `env:"RESUME_POP_TIMEOUT" envDefault:"10s"`
	HandoffConfirmWait time.Duration `env:"HANDOFF_CONFIRM_WAIT" envDefault:"18s"`

	// AuthzMark TTLs (§4.4).
	WhisperMarkTTL time.Duration `env:"WHISPER_MARK_TTL" envDefault:"48h"`
	ListenMarkTTL  time.Duration `env:"LISTEN_MARK_TTL" envDefault:"61m"`

	// Duplicate-POST suppression window (§4.1).
	DedupWindow time.Duration `env:"DEDUP_WINDOW" envDefault:"250ms"`
}

// Validate checks cross-field invariants not expressible via struct tags.
func (c *Config) Validate() error {
	if c.TranscriptOverlap <= 0 {
		return fmt.Errorf("TRANSCRIPT_OVERLAP must be positive")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("DB_KEY_PREFIX must not be empty")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile   string
	HTTPAddr  string
	LogLevel  string
	StoreURL  string
	BrokerURL string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.StoreURL != "" {
		cfg.StoreURL = overrides.StoreURL
	}
	if overrides.BrokerURL != "" {
		cfg.BrokerURL = overrides.BrokerURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
