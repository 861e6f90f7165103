package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the deliberation engine. It supports
// three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables / config file (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithMode("strict"),
//	    WithHTTPPort(8080),
//	)
type Config struct {
	Name      string `json:"name" yaml:"name" env:"CONCLAVE_NAME" default:"conclave"`
	Namespace string `json:"namespace" yaml:"namespace" env:"CONCLAVE_NAMESPACE" default:"default"`

	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
	Router    RouterFileConfig `json:"router" yaml:"router"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`

	Development DevelopmentConfig `json:"development" yaml:"development"`

	logger Logger `json:"-" yaml:"-"`
}

// RuntimeConfig controls the deliberation runtime shell: concurrency
// admission, per-request deadlines, and which optional subsystems are wired.
type RuntimeConfig struct {
	Mode                 string        `json:"mode" yaml:"mode" env:"CONCLAVE_MODE" default:"balanced"`
	MaxConcurrentTasks   int           `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks" env:"CONCLAVE_MAX_CONCURRENT_TASKS" default:"10"`
	DecisionTimeout      time.Duration `json:"decision_timeout" yaml:"decision_timeout" env:"CONCLAVE_DECISION_TIMEOUT" default:"20s"`
	HealthcheckInterval  time.Duration `json:"healthcheck_interval" yaml:"healthcheck_interval" env:"CONCLAVE_HEALTHCHECK_INTERVAL" default:"30s"`
	EnablePrecedent      bool          `json:"enable_precedent" yaml:"enable_precedent" env:"CONCLAVE_ENABLE_PRECEDENT" default:"true"`
	EnableTelemetry      bool          `json:"enable_telemetry" yaml:"enable_telemetry" env:"CONCLAVE_ENABLE_TELEMETRY" default:"true"`
	EnableEvents         bool          `json:"enable_events" yaml:"enable_events" env:"CONCLAVE_ENABLE_EVENTS" default:"true"`
	UncertaintyThreshold float64       `json:"uncertainty_threshold" yaml:"uncertainty_threshold" env:"CONCLAVE_UNCERTAINTY_THRESHOLD" default:"0.35"`
}

// RouterFileConfig is the on-disk representation of routing rules and
// backend definitions, loaded from the config file and handed to
// router.New at bootstrap.
type RouterFileConfig struct {
	DefaultModel string          `json:"default_model" yaml:"default_model" env:"CONCLAVE_ROUTER_DEFAULT_MODEL"`
	MaxRetries   int             `json:"max_retries" yaml:"max_retries" env:"CONCLAVE_ROUTER_MAX_RETRIES" default:"2"`
	Timeout      time.Duration   `json:"timeout" yaml:"timeout" env:"CONCLAVE_ROUTER_TIMEOUT" default:"15s"`
	Rules        []RuleFile      `json:"rules" yaml:"rules"`
	Backends     []BackendFile   `json:"backends" yaml:"backends"`
	Fallback     []string        `json:"fallback_chain" yaml:"fallback_chain"`
}

// RuleFile is a routing rule as read from configuration: a conjunction of
// equality conditions mapped to the backend name to use when all match.
type RuleFile struct {
	If       map[string]string `json:"if" yaml:"if"`
	UseModel string             `json:"use_model" yaml:"use_model"`
}

// BackendFile describes one callable model/critic backend.
type BackendFile struct {
	Name     string `json:"name" yaml:"name"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

// TelemetryConfig controls OpenTelemetry span/metric export.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" env:"CONCLAVE_TELEMETRY_ENABLED" default:"false"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint" env:"CONCLAVE_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string  `json:"service_name" yaml:"service_name" env:"CONCLAVE_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" env:"CONCLAVE_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure     bool    `json:"insecure" yaml:"insecure" env:"CONCLAVE_TELEMETRY_INSECURE" default:"true"`
	UseStdout    bool    `json:"use_stdout" yaml:"use_stdout" env:"CONCLAVE_TELEMETRY_STDOUT" default:"false"`
}

// StorageConfig configures the optional Redis-backed precedent store.
type StorageConfig struct {
	RedisURL   string        `json:"redis_url" yaml:"redis_url" env:"CONCLAVE_REDIS_URL,REDIS_URL"`
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix" env:"CONCLAVE_STORAGE_KEY_PREFIX" default:"conclave:precedent"`
	TTL        time.Duration `json:"ttl" yaml:"ttl" env:"CONCLAVE_STORAGE_TTL" default:"720h"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"CONCLAVE_STORAGE_DIAL_TIMEOUT" default:"5s"`
}

// HTTPConfig holds HTTP listener settings. They are loaded and validated,
// but no component in this module starts an HTTP server.
type HTTPConfig struct {
	Port            int           `json:"port" yaml:"port" env:"CONCLAVE_PORT" default:"8080"`
	Address         string        `json:"address" yaml:"address" env:"CONCLAVE_ADDRESS" default:"localhost"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"CONCLAVE_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"CONCLAVE_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"CONCLAVE_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"CONCLAVE_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"CONCLAVE_LOG_FORMAT" default:"json"`
	Output string `json:"output" yaml:"output" env:"CONCLAVE_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig contains settings for local development and testing.
// WARNING: never enable in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"CONCLAVE_DEV_MODE" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" yaml:"pretty_logs" env:"CONCLAVE_PRETTY_LOGS" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" env:"CONCLAVE_DEBUG" default:"false"`
}

// Option is a functional option for configuring the engine.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults for local
// development. Production deployments override via environment variables
// or a config file.
func DefaultConfig() *Config {
	return &Config{
		Name:      "conclave",
		Namespace: "default",
		Runtime: RuntimeConfig{
			Mode:                 "balanced",
			MaxConcurrentTasks:   10,
			DecisionTimeout:      20 * time.Second,
			HealthcheckInterval:  30 * time.Second,
			EnablePrecedent:      true,
			EnableTelemetry:      true,
			EnableEvents:         true,
			UncertaintyThreshold: 0.35,
		},
		Router: RouterFileConfig{
			MaxRetries: 2,
			Timeout:    15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Storage: StorageConfig{
			KeyPrefix:   "conclave:precedent",
			TTL:         30 * 24 * time.Hour,
			DialTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:            8080,
			Address:         "localhost",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays environment variables onto the current configuration.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("CONCLAVE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("CONCLAVE_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("CONCLAVE_MODE"); v != "" {
		c.Runtime.Mode = v
	}
	if v := os.Getenv("CONCLAVE_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runtime.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("CONCLAVE_DECISION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Runtime.DecisionTimeout = d
		}
	}
	if v := os.Getenv("CONCLAVE_UNCERTAINTY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Runtime.UncertaintyThreshold = f
		}
	}
	if v := os.Getenv("CONCLAVE_ENABLE_PRECEDENT"); v != "" {
		c.Runtime.EnablePrecedent = parseBool(v)
	}
	if v := os.Getenv("CONCLAVE_ENABLE_TELEMETRY"); v != "" {
		c.Runtime.EnableTelemetry = parseBool(v)
	}
	if v := os.Getenv("CONCLAVE_ENABLE_EVENTS"); v != "" {
		c.Runtime.EnableEvents = parseBool(v)
	}

	if v := os.Getenv("CONCLAVE_ROUTER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Router.MaxRetries = n
		}
	}
	if v := os.Getenv("CONCLAVE_ROUTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Router.Timeout = d
		}
	}

	if v := os.Getenv("CONCLAVE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("CONCLAVE_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("CONCLAVE_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}

	if v := os.Getenv("CONCLAVE_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}

	if v := os.Getenv("CONCLAVE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
	if v := os.Getenv("CONCLAVE_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}

	if v := os.Getenv("CONCLAVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CONCLAVE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("CONCLAVE_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("CONCLAVE_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	return c.Validate()
}

// LoadFromFile loads configuration from a YAML or JSON file, overlaying it
// onto the receiver. File settings override environment variables but are
// themselves overridden by functional options applied afterward.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is cleaned above
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return &DeliberationError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid port: %d", c.HTTP.Port),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.Name == "" {
		return &DeliberationError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "name is required",
			Err:     ErrMissingConfiguration,
		}
	}
	if _, ok := modeDefaults[c.Runtime.Mode]; !ok {
		return &DeliberationError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown mode %q", c.Runtime.Mode),
			Err:     ErrUnknownMode,
		}
	}
	if c.Runtime.MaxConcurrentTasks < 1 {
		return &DeliberationError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "max_concurrent_tasks must be at least 1",
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" && !c.Telemetry.UseStdout {
		return &DeliberationError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when telemetry is enabled (or set use_stdout)",
			Err:     ErrMissingConfiguration,
		}
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WithMode sets the hybrid-core mode profile ("strict", "balanced",
// "permissive", "advisory", "appliance", or "distributed").
func WithMode(mode string) Option {
	return func(c *Config) error {
		c.Runtime.Mode = mode
		return nil
	}
}

// WithHTTPPort sets HTTPConfig.Port. Must be between 1 and 65535.
func WithHTTPPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return &DeliberationError{
				Op:      "WithHTTPPort",
				Kind:    "config",
				Message: fmt.Sprintf("invalid port: %d", port),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.HTTP.Port = port
		return nil
	}
}

// WithMaxConcurrentTasks bounds the number of in-flight Decide calls.
func WithMaxConcurrentTasks(n int) Option {
	return func(c *Config) error {
		c.Runtime.MaxConcurrentTasks = n
		return nil
	}
}

// WithDecisionTimeout bounds the wall-clock time a single Decide call may run.
func WithDecisionTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Runtime.DecisionTimeout = d
		return nil
	}
}

// WithRedisURL configures the precedent store's Redis connection and
// enables precedent lookup.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Storage.RedisURL = url
		c.Runtime.EnablePrecedent = true
		return nil
	}
}

// WithTelemetry enables OTLP export to the given endpoint.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = c.Name
		}
		return nil
	}
}

// WithConfigFile loads a YAML or JSON file at its position in the option
// list: options given before it can be overridden by the file, options
// given after it override the file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithLogger sets the logger used for configuration-time diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithDevelopmentMode enables developer-friendly defaults: pretty logs,
// debug level, text format. Never enable in production.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// NewConfig builds a configuration in priority order: defaults, environment
// variables, then functional options, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
