package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HubConfig is the root configuration for the cloud hub binary.
type HubConfig struct {
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RelayConfig is the root configuration for the in-home controller binary.
type RelayConfig struct {
	// StateDir holds the three persisted JSON documents: controller
	// configuration, the immediate command queue, and the schedule.
	StateDir string `yaml:"state_dir"`

	Cloud    CloudConfig    `yaml:"cloud"`
	Executor ExecutorConfig `yaml:"executor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// SecurityConfig contains hub-side security settings.
type SecurityConfig struct {
	// AdminAPIKey and AdminSecret identify the platform principal allowed to
	// queue commands and initialise pairing. User account management lives in
	// a separate service; the hub only needs one administrative principal.
	AdminAPIKey string `yaml:"admin_api_key"`
	AdminSecret string `yaml:"admin_secret"`

	// MasterKey is the hex-encoded AES-256 key encrypting stored secrets.
	MasterKey string `yaml:"master_key"`

	// TokenSecret signs relay bearer tokens (HMAC-SHA256 JWT).
	TokenSecret string `yaml:"token_secret"`

	// TokenTTL is the bearer token lifetime in minutes.
	TokenTTL int `yaml:"token_ttl"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains request rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// CloudConfig points the controller at its cloud service.
type CloudConfig struct {
	// BaseURL is the hub endpoint, e.g. "https://hub.example.com".
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`

	// StatePushInterval is how often a full device-state snapshot is pushed,
	// in seconds. Between pushes the poll loop issues cheap probes.
	StatePushInterval int `yaml:"state_push_interval"`
}

// ExecutorConfig bounds controller-side command execution.
type ExecutorConfig struct {
	// MaxConcurrent limits simultaneously executing commands.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DefaultTimeout is the per-command timeout in seconds when the command
	// payload does not carry one.
	DefaultTimeout int `yaml:"default_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the bridge system.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// HistoryConfig contains InfluxDB settings for command-result history.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LoadHub reads hub configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern IMAGINARY_SECTION_KEY, for
// example IMAGINARY_DATABASE_PATH or IMAGINARY_SECURITY_MASTER_KEY.
func LoadHub(path string) (*HubConfig, error) {
	cfg := defaultHubConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyHubEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadRelay reads controller configuration from a YAML file and applies
// environment variable overrides. See LoadHub for the loading order.
func LoadRelay(path string) (*RelayConfig, error) {
	cfg := defaultRelayConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyRelayEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultHubConfig returns a HubConfig with sensible defaults.
func defaultHubConfig() *HubConfig {
	return &HubConfig{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/imaginaryhub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Security: SecurityConfig{
			TokenTTL: 1440,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 300,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// defaultRelayConfig returns a RelayConfig with sensible defaults.
func defaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		StateDir: "./data",
		Cloud: CloudConfig{
			Timeout:           30,
			StatePushInterval: 300,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:  8,
			DefaultTimeout: 300,
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "imaginary-relay",
			QoS:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyHubEnvOverrides applies IMAGINARY_* environment overrides to hub config.
func applyHubEnvOverrides(cfg *HubConfig) {
	if v := os.Getenv("IMAGINARY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("IMAGINARY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("IMAGINARY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("IMAGINARY_SECURITY_ADMIN_API_KEY"); v != "" {
		cfg.Security.AdminAPIKey = v
	}
	if v := os.Getenv("IMAGINARY_SECURITY_ADMIN_SECRET"); v != "" {
		cfg.Security.AdminSecret = v
	}
	if v := os.Getenv("IMAGINARY_SECURITY_MASTER_KEY"); v != "" {
		cfg.Security.MasterKey = v
	}
	if v := os.Getenv("IMAGINARY_SECURITY_TOKEN_SECRET"); v != "" {
		cfg.Security.TokenSecret = v
	}
}

// applyRelayEnvOverrides applies IMAGINARY_* environment overrides to relay config.
func applyRelayEnvOverrides(cfg *RelayConfig) {
	if v := os.Getenv("IMAGINARY_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("IMAGINARY_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("IMAGINARY_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("IMAGINARY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("IMAGINARY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("IMAGINARY_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// minSecretLength guards against trivially forgeable HMAC secrets.
const minSecretLength = 32

// Validate checks the hub configuration for errors.
func (c *HubConfig) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Security.AdminAPIKey == "" {
		errs = append(errs, "security.admin_api_key is required")
	}
	if len(c.Security.AdminSecret) < minSecretLength {
		errs = append(errs, "security.admin_secret must be at least 32 characters")
	}
	if len(c.Security.MasterKey) != 64 {
		errs = append(errs, "security.master_key must be 64 hex characters (set IMAGINARY_SECURITY_MASTER_KEY)")
	}
	if len(c.Security.TokenSecret) < minSecretLength {
		errs = append(errs, "security.token_secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the controller configuration for errors.
func (c *RelayConfig) Validate() error {
	var errs []string

	if c.StateDir == "" {
		errs = append(errs, "state_dir is required")
	}
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Executor.MaxConcurrent < 1 {
		errs = append(errs, "executor.max_concurrent must be at least 1")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *HubConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *HubConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *HubConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// TokenTTLDuration returns the bearer token lifetime as a Duration.
func (c *SecurityConfig) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Minute
}

// RequestTimeout returns the cloud HTTP timeout as a Duration.
func (c *CloudConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// StatePushEvery returns the state push interval as a Duration.
func (c *CloudConfig) StatePushEvery() time.Duration {
	return time.Duration(c.StatePushInterval) * time.Second
}

// CommandTimeout returns the default per-command timeout as a Duration.
func (c *ExecutorConfig) CommandTimeout() time.Duration {
	return time.Duration(c.DefaultTimeout) * time.Second
}
