// Package config loads the agent and bridge configuration.
//
// Configuration is read once: .env files are loaded with godotenv, an
// optional YAML file is parsed, `env` struct tags override YAML values and
// defaults fill whatever is still empty. The resulting *Config is treated as
// immutable and passed by pointer to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage scopes for identity and session counters.
const (
	ScopeSession    = "session"
	ScopePersistent = "persistent"
)

// Default configuration values.
const (
	DefaultEndpoint       = "https://stackfluence.com"
	DefaultClickParam     = "inf_click_id"
	DefaultEventPath      = "/v1/events/universal"
	defaultClickIDTTL     = 30 * 24 * time.Hour
	defaultSessionTimeout = 30 * time.Minute
	defaultIdleThreshold  = 30 * time.Second
	defaultScrollThrottle = 250 * time.Millisecond
	defaultEngageSample   = 5 * time.Second
	defaultQueueSize      = 256
	defaultRequestTimeout = 5 * time.Second

	defaultPort        = 8080
	defaultPageIdle    = 30 * time.Minute
	defaultCORSOrigin  = "*"
	defaultLogLevel    = "info"
	defaultLedgerBatch = 100
)

var defaultRescanDelays = []time.Duration{2 * time.Second, 5 * time.Second}

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrMissingOrgID is returned when no organization id is configured.
	ErrMissingOrgID = errors.New("organization id is required")
)

// Config holds the complete configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Service  ServiceConfig  `yaml:"service"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig is the per-installation agent configuration.
type AgentConfig struct {
	APIKey           string          `env:"AGENT_API_KEY"     yaml:"api_key"`
	OrgID            string          `env:"AGENT_ORG_ID"      yaml:"org_id"`
	Endpoint         string          `env:"AGENT_ENDPOINT"    yaml:"endpoint"`
	ClickParam       string          `env:"AGENT_CLICK_PARAM" yaml:"click_param"`
	EventPath        string          `yaml:"event_path"`
	StorageScope     string          `env:"AGENT_STORAGE_SCOPE" yaml:"storage_scope"`
	ClickIDTTL       time.Duration   `yaml:"click_id_ttl"`
	SessionTimeout   time.Duration   `yaml:"session_timeout"`
	LegacyEvents     *bool           `yaml:"legacy_events"`
	RescanDelays     []time.Duration `yaml:"rescan_delays"`
	IdleThreshold    time.Duration   `yaml:"idle_threshold"`
	ScrollThrottle   time.Duration   `yaml:"scroll_throttle"`
	EngagementSample time.Duration   `yaml:"engagement_sample"`
	QueueSize        int             `yaml:"queue_size"`
	RequestTimeout   time.Duration   `yaml:"request_timeout"`
}

// ServiceConfig configures the host bridge HTTP service.
type ServiceConfig struct {
	Port            int           `env:"PORT"           yaml:"port"`
	Debug           bool          `env:"APP_DEBUG"      yaml:"debug"`
	JWTSecret       string        `env:"JWT_SECRET_KEY" yaml:"jwt_secret"`
	CORSOrigin      string        `env:"FE_ORIGIN"      yaml:"cors_origin"`
	PageIdleTimeout time.Duration `yaml:"page_idle_timeout"`
}

// RedisConfig configures the persistent storage scope.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// LedgerConfig configures the ClickHouse delivery ledger. Empty host disables it.
type LedgerConfig struct {
	Host      string `env:"CLICKHOUSE_HOST"        yaml:"host"`
	Port      int    `env:"CLICKHOUSE_NATIVE_PORT" yaml:"port"`
	Database  string `env:"CLICKHOUSE_DB_NAME"     yaml:"database"`
	Username  string `env:"CLICKHOUSE_USERNAME"    yaml:"username"`
	Password  string `env:"CLICKHOUSE_PASSWORD"    yaml:"password"`
	BatchSize int    `yaml:"batch_size"`
}

// PostgresConfig configures the installation registry. Empty URL disables it.
type PostgresConfig struct {
	URL string `env:"DATABASE_URL" yaml:"url"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" yaml:"level"`
}

// Load reads .env files, the optional YAML file at path, env overrides and defaults.
// An empty path skips the YAML step.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	c.Agent.setDefaults()

	if c.Service.Port == 0 {
		c.Service.Port = defaultPort
	}
	if c.Service.CORSOrigin == "" {
		c.Service.CORSOrigin = defaultCORSOrigin
	}
	if c.Service.PageIdleTimeout == 0 {
		c.Service.PageIdleTimeout = defaultPageIdle
	}
	if c.Ledger.BatchSize == 0 {
		c.Ledger.BatchSize = defaultLedgerBatch
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (a *AgentConfig) setDefaults() {
	if a.Endpoint == "" {
		a.Endpoint = DefaultEndpoint
	}
	if a.ClickParam == "" {
		a.ClickParam = DefaultClickParam
	}
	if a.EventPath == "" {
		a.EventPath = DefaultEventPath
	}
	if a.StorageScope == "" {
		a.StorageScope = ScopePersistent
	}
	if a.ClickIDTTL == 0 {
		a.ClickIDTTL = defaultClickIDTTL
	}
	if a.SessionTimeout == 0 {
		a.SessionTimeout = defaultSessionTimeout
	}
	if a.LegacyEvents == nil {
		enabled := true
		a.LegacyEvents = &enabled
	}
	if len(a.RescanDelays) == 0 {
		a.RescanDelays = append([]time.Duration(nil), defaultRescanDelays...)
	}
	if a.IdleThreshold == 0 {
		a.IdleThreshold = defaultIdleThreshold
	}
	if a.ScrollThrottle == 0 {
		a.ScrollThrottle = defaultScrollThrottle
	}
	if a.EngagementSample == 0 {
		a.EngagementSample = defaultEngageSample
	}
	if a.QueueSize == 0 {
		a.QueueSize = defaultQueueSize
	}
	if a.RequestTimeout == 0 {
		a.RequestTimeout = defaultRequestTimeout
	}
}

// Legacy reports whether the legacy wire shape is emitted.
func (a *AgentConfig) Legacy() bool {
	return a.LegacyEvents == nil || *a.LegacyEvents
}

// Validate checks presence of the values the agent cannot run without.
// Values are external input and are not validated beyond non-empty checks.
func (a *AgentConfig) Validate() error {
	if a.APIKey == "" {
		return ErrMissingAPIKey
	}
	if a.OrgID == "" {
		return ErrMissingOrgID
	}
	if a.StorageScope != ScopeSession && a.StorageScope != ScopePersistent {
		return fmt.Errorf("unknown storage scope %q", a.StorageScope)
	}
	return nil
}

// WithInstallation returns a copy of the agent config bound to a specific
// installation key and organization. Slices are copied so the receiver
// is never shared mutably.
func (a AgentConfig) WithInstallation(apiKey, orgID string) *AgentConfig {
	out := a
	out.APIKey = apiKey
	out.OrgID = orgID
	out.RescanDelays = append([]time.Duration(nil), a.RescanDelays...)
	return &out
}
