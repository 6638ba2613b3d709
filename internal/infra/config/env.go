package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "CARTE_"

// envOverrides lists the settings operators may override without editing YAML.
// Unset variables leave the file value untouched.
type envOverrides struct {
	Environment     *string        `env:"ENV"`
	GatewayBaseURL  *string        `env:"GATEWAY_BASE_URL"`
	GatewayTimeout  *time.Duration `env:"GATEWAY_TIMEOUT"`
	GatewayRPS      *float64       `env:"GATEWAY_REQUESTS_PER_SECOND"`
	GatewayClientID *string        `env:"GATEWAY_CLIENT_ID"`
	RetryAttempts   *uint          `env:"GATEWAY_RETRY_ATTEMPTS"`
	BreakerEnabled  *bool          `env:"GATEWAY_BREAKER_ENABLED"`
	CacheTTL        *time.Duration `env:"CACHE_TTL"`
	CacheFanout     *string        `env:"CACHE_FANOUT_WORKERS"`
	GuardDriver     *string        `env:"GUARD_DRIVER"`
	GuardPath       *string        `env:"GUARD_PATH"`
	GuardDSN        *string        `env:"GUARD_DSN"`
	GuardMigrations *bool          `env:"GUARD_RUN_MIGRATIONS"`
	APIAddr         *string        `env:"API_ADDR"`
	OTLPEndpoint    *string        `env:"OTLP_ENDPOINT"`
	LogLevel        *string        `env:"LOG_LEVEL"`
	LogFormat       *string        `env:"LOG_FORMAT"`
}

// applyEnvOverrides reads CARTE_* variables from environ, or from the process
// environment when environ is nil.
func applyEnvOverrides(cfg *AppConfig, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	setString(o.Environment, func(v string) { cfg.Environment = Environment(v) })
	setString(o.GatewayBaseURL, func(v string) { cfg.Gateway.BaseURL = v })
	setString(o.GatewayClientID, func(v string) { cfg.Gateway.ClientID = v })
	setString(o.GuardDriver, func(v string) { cfg.Guard.Driver = GuardDriver(v) })
	setString(o.GuardPath, func(v string) { cfg.Guard.Path = v })
	setString(o.GuardDSN, func(v string) { cfg.Guard.DSN = v })
	setString(o.APIAddr, func(v string) { cfg.APIServer.Addr = v })
	setString(o.OTLPEndpoint, func(v string) { cfg.Telemetry.OTLPEndpoint = v })
	setString(o.LogLevel, func(v string) { cfg.Logging.Level = v })
	setString(o.LogFormat, func(v string) { cfg.Logging.Format = v })

	if o.GatewayTimeout != nil {
		cfg.Gateway.Timeout = *o.GatewayTimeout
	}
	if o.GatewayRPS != nil {
		cfg.Gateway.RequestsPerSecond = *o.GatewayRPS
	}
	if o.RetryAttempts != nil {
		cfg.Gateway.Retry.Attempts = *o.RetryAttempts
	}
	if o.BreakerEnabled != nil {
		cfg.Gateway.Breaker.Enabled = *o.BreakerEnabled
	}
	if o.CacheTTL != nil {
		cfg.Cache.TTL = *o.CacheTTL
	}
	if o.GuardMigrations != nil {
		cfg.Guard.RunMigrations = *o.GuardMigrations
	}
	if o.CacheFanout != nil {
		var setting FanoutWorkerSetting
		if err := setting.UnmarshalText([]byte(*o.CacheFanout)); err != nil {
			return fmt.Errorf("%sCACHE_FANOUT_WORKERS: %w", envPrefix, err)
		}
		cfg.Cache.FanoutWorkers = setting
	}
	return nil
}

func setString(value *string, apply func(string)) {
	if value != nil {
		apply(*value)
	}
}
