// Package config centralises configuration parsing for the sync service.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config captures runtime configuration for both binaries.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	HTTPAddress string `envconfig:"HTTP_ADDRESS" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	StravaClientID     string `envconfig:"STRAVA_CLIENT_ID" required:"true"`
	StravaClientSecret string `envconfig:"STRAVA_CLIENT_SECRET" required:"true"`
	// CallbackURL is the public base URL of this deployment; the OAuth redirect
	// and webhook callback are derived from it.
	CallbackURL string `envconfig:"CALLBACK_URL" required:"true"`
	VerifyToken string `envconfig:"VERIFY_TOKEN" default:"my_secure_token"`

	// Provider endpoints are overridable so tests and staging proxies can
	// point the client elsewhere.
	StravaAPIBaseURL string `envconfig:"STRAVA_API_BASE_URL" default:"https://www.strava.com/api/v3"`
	StravaAuthURL    string `envconfig:"STRAVA_AUTH_URL" default:"https://www.strava.com/oauth/authorize"`
	StravaTokenURL   string `envconfig:"STRAVA_TOKEN_URL" default:"https://www.strava.com/oauth/token"`

	// AnnotationMarker is the line appended to activity descriptions; an empty
	// value falls back to the built-in default. AnnotateAppendAlways disables
	// the duplicate check before appending.
	AnnotationMarker     string `envconfig:"ANNOTATION_MARKER"`
	AnnotateAppendAlways bool   `envconfig:"ANNOTATE_APPEND_ALWAYS" default:"false"`

	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionIssuer string        `envconfig:"SESSION_ISSUER" default:"stravasync"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	WebhookTimeout   time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"25s"`
	RetryMaxAttempts uint64        `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`

	ExportBudget   time.Duration `envconfig:"EXPORT_BUDGET" default:"28s"`
	ExportPageSize int           `envconfig:"EXPORT_PAGE_SIZE" default:"100"`
	ExportDir      string        `envconfig:"EXPORT_DIR" default:"/tmp/stravasync"`

	// When S3Bucket is set export results go to object storage instead of the
	// local filesystem.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"true"`
}

// Load reads the environment (and a .env file in development) into Config.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := url.ParseRequestURI(c.CallbackURL); err != nil {
		return fmt.Errorf("CALLBACK_URL must be a valid URL: %w", err)
	}
	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 characters")
	}
	if c.ExportPageSize <= 0 || c.ExportPageSize > 200 {
		return fmt.Errorf("EXPORT_PAGE_SIZE must be within 1..200, got %d", c.ExportPageSize)
	}
	if c.S3Bucket != "" && (c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("S3_BUCKET requires S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	return nil
}

// IsDevelopment reports whether the service runs in a local dev environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}
