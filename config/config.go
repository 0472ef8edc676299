package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/imranansari/gh-deploy-monitor/secrets"
)

// Config holds all configuration for the application
type Config struct {
	// Temporal Configuration
	Temporal TemporalConfig `envPrefix:"TEMPORAL_"`

	// GitHub Configuration (deployment status mirroring)
	GitHub GitHubConfig `envPrefix:"GITHUB_"`

	// Deployment event stream (websocket)
	Stream StreamConfig `envPrefix:"STREAM_"`

	// Backend REST API used for initial snapshots
	API APIConfig `envPrefix:"API_"`

	// Reconciliation engine behaviour
	Monitor MonitorConfig `envPrefix:"MONITOR_"`

	// Application Configuration
	App AppConfig `envPrefix:"APP_"`

	// Secrets (loaded from files)
	Secrets SecretsConfig
}

type TemporalConfig struct {
	HostPort      string        `env:"HOST" envDefault:"localhost:7233" validate:"required,hostname_port"`
	Namespace     string        `env:"NAMESPACE" envDefault:"default" validate:"required"`
	TaskQueue     string        `env:"TASK_QUEUE" envDefault:"deployment-monitor" validate:"required"`
	WorkerOptions WorkerOptions `envPrefix:"WORKER_"`
}

type WorkerOptions struct {
	MaxConcurrentActivityExecutionSize     int  `env:"MAX_CONCURRENT_ACTIVITY" envDefault:"20" validate:"gt=0"`
	MaxConcurrentWorkflowTaskExecutionSize int  `env:"MAX_CONCURRENT_WORKFLOW" envDefault:"10" validate:"gt=0"`
	EnableLoggingInReplay                  bool `env:"ENABLE_LOGGING_REPLAY" envDefault:"false"`
}

type GitHubConfig struct {
	// GitHub App ID. Zero disables status mirroring.
	AppID int64 `env:"APP_ID"`

	// Set GITHUB_ENTERPRISE_URL to use Enterprise GitHub, leave empty for GitHub.com
	EnterpriseURL string `env:"ENTERPRISE_URL" validate:"omitempty,url"`

	PrivateKeyPath string `env:"PRIVATE_KEY_PATH" envDefault:".private/github-app.private-key.pem"`
}

// Enabled reports whether a GitHub App is configured.
func (c GitHubConfig) Enabled() bool {
	return c.AppID != 0
}

type StreamConfig struct {
	URL              string        `env:"URL" validate:"omitempty,url"`
	Token            string        `env:"TOKEN"`
	TokenFile        string        `env:"TOKEN_FILE"`
	JWTSecret        string        `env:"JWT_SECRET"`
	UserID           string        `env:"USER_ID"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"15m" validate:"gt=0"`
	PingInterval     time.Duration `env:"PING_INTERVAL" envDefault:"25s" validate:"gt=0"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	Reconnect        BackoffConfig `envPrefix:"RECONNECT_"`
}

type BackoffConfig struct {
	// MaxRetries of 0 retries forever
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"0" validate:"gte=0"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s" validate:"gt=0"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"30s" validate:"gtefield=InitialBackoff"`
	Multiplier     float64       `env:"MULTIPLIER" envDefault:"2.0" validate:"gte=1"`
}

type APIConfig struct {
	BaseURL   string        `env:"BASE_URL" envDefault:"http://localhost:8000" validate:"required,url"`
	Token     string        `env:"TOKEN"`
	TokenFile string        `env:"TOKEN_FILE"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"15s" validate:"gt=0"`
}

type MonitorConfig struct {
	TickInterval     time.Duration `env:"TICK_INTERVAL" envDefault:"1s" validate:"gt=0"`
	StrictProgress   bool          `env:"STRICT_PROGRESS" envDefault:"false"`
	ResetOnReconnect bool          `env:"RESET_ON_RECONNECT" envDefault:"false"`
}

type AppConfig struct {
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error fatal panic"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsPort    int    `env:"METRICS_PORT" envDefault:"9090" validate:"min=1,max=65535"`
}

type SecretsConfig struct {
	GitHubPrivateKey []byte
}

// Load loads configuration from environment variables and files
func Load() (*Config, error) {
	// .env is optional, plain environment variables win when it is missing
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := loadSecrets(cfg); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadSecrets resolves bearer tokens kept in files and, when mirroring is
// enabled, the GitHub App key
func loadSecrets(cfg *Config) error {
	streamToken, err := secrets.ResolveToken(cfg.Stream.Token, cfg.Stream.TokenFile)
	if err != nil {
		return fmt.Errorf("failed to load stream token: %w", err)
	}
	cfg.Stream.Token = streamToken

	apiToken, err := secrets.ResolveToken(cfg.API.Token, cfg.API.TokenFile)
	if err != nil {
		return fmt.Errorf("failed to load API token: %w", err)
	}
	cfg.API.Token = apiToken

	if !cfg.GitHub.Enabled() {
		return nil
	}
	privateKey, err := secrets.LoadFromFile(cfg.GitHub.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load GitHub App private key: %w", err)
	}
	cfg.Secrets.GitHubPrivateKey = privateKey
	return nil
}

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return describe(err)
	}
	if cfg.GitHub.Enabled() && len(cfg.Secrets.GitHubPrivateKey) == 0 {
		return fmt.Errorf("GitHub App private key is required when GITHUB_APP_ID is set")
	}
	if cfg.Stream.Token != "" && cfg.Stream.JWTSecret != "" {
		return fmt.Errorf("set either STREAM_TOKEN or STREAM_JWT_SECRET, not both")
	}
	return nil
}

// RequireStream validates the settings needed by binaries that open the event stream.
func (c *Config) RequireStream() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("STREAM_URL is required")
	}
	if c.Stream.JWTSecret != "" && c.Stream.UserID == "" {
		return fmt.Errorf("STREAM_USER_ID is required when STREAM_JWT_SECRET is set")
	}
	return nil
}
