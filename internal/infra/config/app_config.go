// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig describes the remote menu API and the client's protection knobs.
type GatewayConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	ClientID          string        `yaml:"clientID"`
	Retry             RetryConfig   `yaml:"retry"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// RetryConfig bounds retries of idempotent menu API reads.
type RetryConfig struct {
	Attempts   uint          `yaml:"attempts"`
	MaxElapsed time.Duration `yaml:"maxElapsed"`
}

// BreakerConfig controls the circuit breaker in front of the menu API.
type BreakerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Failures uint32        `yaml:"failures"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// CacheConfig sizes the per-category snapshot cache.
type CacheConfig struct {
	TTL           time.Duration       `yaml:"ttl"`
	FanoutWorkers FanoutWorkerSetting `yaml:"fanoutWorkers"`
}

// GuardConfig selects and sizes the once-per-day rating guard store.
type GuardConfig struct {
	Driver            GuardDriver   `yaml:"driver"`
	Path              string        `yaml:"path"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

// APIServerConfig configures the local control HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig selects the structured logger level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the unified carte application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Cache       CacheConfig     `yaml:"cache"`
	Guard       GuardConfig     `yaml:"guard"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// DefaultAppConfig returns the configuration used when no file is supplied.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Gateway: GatewayConfig{
			BaseURL:           "http://localhost:3000",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
			Retry:             RetryConfig{Attempts: 3, MaxElapsed: 5 * time.Second},
			Breaker:           BreakerConfig{Enabled: true, Failures: 5, Cooldown: 30 * time.Second},
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
		},
		Guard:     GuardConfig{Driver: GuardMemory},
		APIServer: APIServerConfig{Addr: ":8880"},
		Telemetry: TelemetryConfig{
			ServiceName:   "carte",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
	_ = cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file, then
// applies CARTE_* environment overrides.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return finalise(cfg, nil)
}

// LoadOrDefault behaves like Load but falls back to DefaultAppConfig when the
// file does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, err
	}
	return finalise(DefaultAppConfig(), nil)
}

func finalise(cfg AppConfig, environ map[string]string) (AppConfig, error) {
	if err := applyEnvOverrides(&cfg, environ); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	c.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gateway.BaseURL), "/")
	c.Gateway.ClientID = strings.TrimSpace(c.Gateway.ClientID)
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 1
	}
	if c.Gateway.Retry.Attempts == 0 {
		c.Gateway.Retry.Attempts = 1
	}
	if c.Gateway.Breaker.Enabled && c.Gateway.Breaker.Failures == 0 {
		c.Gateway.Breaker.Failures = 5
	}

	c.Guard.Driver = GuardDriver(normalizeIdentifier(string(c.Guard.Driver)))
	if c.Guard.Driver == "" {
		c.Guard.Driver = GuardMemory
	}
	c.Guard.applyDefaults()

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Logging.Level = normalizeIdentifier(c.Logging.Level)
	c.Logging.Format = normalizeIdentifier(c.Logging.Format)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

func (c *GuardConfig) applyDefaults() {
	c.Path = strings.TrimSpace(c.Path)
	c.DSN = strings.TrimSpace(c.DSN)
	switch c.Driver {
	case GuardFile:
		if c.Path == "" {
			c.Path = "data/guard.json"
		}
	case GuardSQLite:
		if c.Path == "" {
			c.Path = "data/guard.db"
		}
	case GuardPostgres:
		if c.DSN == "" {
			c.DSN = "postgresql://localhost:5432/carte"
		}
	}
	if c.Path != "" {
		c.Path = filepath.Clean(c.Path)
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c GuardConfig) validate() error {
	switch c.Driver {
	case GuardMemory:
	case GuardFile, GuardSQLite:
		if c.Path == "" {
			return fmt.Errorf("path required for %s driver", c.Driver)
		}
	case GuardPostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn required for postgres driver")
		}
		if c.MinConns > c.MaxConns {
			return fmt.Errorf("minConns must be <= maxConns")
		}
	default:
		return fmt.Errorf("driver must be one of memory, file, sqlite, postgres")
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway baseURL required")
	}
	parsed, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("gateway baseURL must be an absolute http(s) url")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be >0")
	}
	if c.Gateway.RequestsPerSecond < 0 {
		return fmt.Errorf("gateway requestsPerSecond must be >=0")
	}
	if c.Gateway.Breaker.Enabled && c.Gateway.Breaker.Cooldown <= 0 {
		return fmt.Errorf("gateway breaker cooldown required when enabled")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be >0")
	}

	if err := c.Guard.validate(); err != nil {
		return fmt.Errorf("guard: %w", err)
	}

	if c.APIServer.Addr == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console")
	}
	return nil
}

// Encode renders the configuration in the file layout Load accepts.
func (c AppConfig) Encode() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
