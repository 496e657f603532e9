// Package config defines the global configuration structure for the Polly
// notification service. Configuration is loaded once at process initialization
// (Lambda cold start or server boot) and is immutable thereafter. It follows
// 12-Factor App principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"polly/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Polly notification
// service. It is populated once during process initialization and never
// modified. Sub-components receive only the specific config subsets they
// require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"polly-notifications"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Notifier      NotifierConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Feature       FeatureConfig

	// Build Metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for links embedded in notification emails (no trailing slash)
	AppBaseURL string `envconfig:"APP_BASE_URL" validate:"required,url"` // e.g., https://polly.app
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	PollEventsQueue string `envconfig:"SQS_POLL_EVENTS" validate:"required,url"`
	DlqURL          string `envconfig:"SQS_DLQ"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"notifications@polly.app"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Polly"`
	ReplyTo        string       `envconfig:"EMAIL_REPLY_TO"`
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid"`
}

// NotifierConfig holds delivery worker tuning parameters.
type NotifierConfig struct {
	// BatchSize is the maximum number of due queue entries claimed per run.
	BatchSize int `envconfig:"NOTIFIER_BATCH_SIZE" default:"50"`
	// Concurrency bounds the number of entries dispatched in parallel.
	Concurrency int `envconfig:"NOTIFIER_CONCURRENCY" default:"8"`
	// ChunkSize and ChunkPause throttle provider traffic within a batch.
	ChunkSize  int           `envconfig:"NOTIFIER_CHUNK_SIZE" default:"25"`
	ChunkPause time.Duration `envconfig:"NOTIFIER_CHUNK_PAUSE" default:"500ms"`
	// StaleGrace is how far past its fire time an enqueue request may arrive
	// before it is rejected as stale.
	StaleGrace time.Duration `envconfig:"NOTIFIER_STALE_GRACE" default:"5m"`
	// LockTTL is the job lock lease duration for scheduled runs.
	LockTTL time.Duration `envconfig:"NOTIFIER_LOCK_TTL" default:"10m"`
}

// SecurityConfig holds service authentication and CORS settings.
type SecurityConfig struct {
	// ServiceToken authenticates internal endpoints (e.g., POST /internal/notifications/run).
	ServiceToken SecretString `envconfig:"SERVICE_TOKEN" validate:"required,min=16"`
	// UserIDHeader carries the resolved user identity from the upstream auth proxy.
	UserIDHeader       string   `envconfig:"USER_ID_HEADER" default:"X-Polly-User-ID"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Polly"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// FeatureConfig holds emergency kill switches for system capabilities.
type FeatureConfig struct {
	// EnableEmail gates all outbound email. When off, the delivery worker
	// still claims and re-gates entries but records sends as skipped.
	EnableEmail bool `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
