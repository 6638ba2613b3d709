package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadOrDefaultFallsBackWhenMissing(t *testing.T) {
	cfg, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	require.Equal(t, GuardMemory, cfg.Guard.Driver)
	require.Equal(t, ":8880", cfg.APIServer.Addr)
}

func TestLoadOrDefaultSurfacesParseErrors(t *testing.T) {
	path := writeConfig(t, "environment: [unterminated\n")
	_, err := LoadOrDefault(context.Background(), path)
	require.Error(t, err)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
gateway:
  baseURL: https://menu.example.com/api/
  timeout: 3s
  requestsPerSecond: 5
  burst: 2
  retry:
    attempts: 4
    maxElapsed: 2s
  breaker:
    enabled: true
    failures: 3
    cooldown: 15s
cache:
  ttl: 90s
  fanoutWorkers: 12
guard:
  driver: SQLite
  path: ./state/guard.db
apiServer:
  addr: " :9999 "
telemetry:
  serviceName: carte-test
logging:
  level: DEBUG
  format: console
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "https://menu.example.com/api", cfg.Gateway.BaseURL)
	require.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	require.InDelta(t, 5.0, cfg.Gateway.RequestsPerSecond, 1e-9)
	require.Equal(t, 2, cfg.Gateway.Burst)
	require.Equal(t, uint(4), cfg.Gateway.Retry.Attempts)
	require.Equal(t, uint32(3), cfg.Gateway.Breaker.Failures)
	require.Equal(t, 15*time.Second, cfg.Gateway.Breaker.Cooldown)
	require.Equal(t, 90*time.Second, cfg.Cache.TTL)
	require.Equal(t, 12, cfg.Cache.FanoutWorkers.Count())
	require.Equal(t, GuardSQLite, cfg.Guard.Driver)
	require.Equal(t, filepath.Clean("state/guard.db"), cfg.Guard.Path)
	require.Equal(t, ":9999", cfg.APIServer.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadKeepsDefaultsForOmittedSections(t *testing.T) {
	path := writeConfig(t, "environment: dev\n")
	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, DefaultAppConfig().Gateway, cfg.Gateway)
	require.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	require.Zero(t, cfg.Cache.FanoutWorkers.Count(), "default fan-out is unbounded")
}

func TestFanoutWorkersSymbolicValues(t *testing.T) {
	var s FanoutWorkerSetting
	require.NoError(t, s.UnmarshalText([]byte("auto")))
	require.Equal(t, runtime.NumCPU()*2, s.Count())

	require.NoError(t, s.UnmarshalText([]byte("default")))
	require.Zero(t, s.Count())

	require.Error(t, s.UnmarshalText([]byte("0")))
	require.Error(t, s.UnmarshalText([]byte("many")))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"environment":  func(c *AppConfig) { c.Environment = "qa" },
		"base url":     func(c *AppConfig) { c.Gateway.BaseURL = "menu.local" },
		"timeout":      func(c *AppConfig) { c.Gateway.Timeout = 0 },
		"ttl":          func(c *AppConfig) { c.Cache.TTL = 0 },
		"guard driver": func(c *AppConfig) { c.Guard.Driver = "redis" },
		"guard path":   func(c *AppConfig) { c.Guard.Driver = GuardFile; c.Guard.Path = "" },
		"api addr":     func(c *AppConfig) { c.APIServer.Addr = "" },
		"log format":   func(c *AppConfig) { c.Logging.Format = "xml" },
		"breaker":      func(c *AppConfig) { c.Gateway.Breaker.Cooldown = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestGuardDefaultsPerDriver(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Guard = GuardConfig{Driver: GuardFile}
	require.NoError(t, cfg.normalise())
	require.Equal(t, filepath.Clean("data/guard.json"), cfg.Guard.Path)

	cfg.Guard = GuardConfig{Driver: GuardPostgres, MinConns: 10, MaxConns: 2}
	require.NoError(t, cfg.normalise())
	require.Equal(t, "postgresql://localhost:5432/carte", cfg.Guard.DSN)
	require.Equal(t, int32(2), cfg.Guard.MinConns)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	cfg, err := finalise(DefaultAppConfig(), map[string]string{
		"CARTE_ENV":                     "prod",
		"CARTE_GATEWAY_BASE_URL":        "https://api.example.com",
		"CARTE_CACHE_TTL":               "1m",
		"CARTE_CACHE_FANOUT_WORKERS":    "3",
		"CARTE_GUARD_DRIVER":            "file",
		"CARTE_GUARD_PATH":              "/var/lib/carte/guard.json",
		"CARTE_GATEWAY_BREAKER_ENABLED": "false",
		"UNRELATED":                     "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, "https://api.example.com", cfg.Gateway.BaseURL)
	require.Equal(t, time.Minute, cfg.Cache.TTL)
	require.Equal(t, 3, cfg.Cache.FanoutWorkers.Count())
	require.Equal(t, GuardFile, cfg.Guard.Driver)
	require.Equal(t, "/var/lib/carte/guard.json", cfg.Guard.Path)
	require.False(t, cfg.Gateway.Breaker.Enabled)
}

func TestEnvOverridesRejectMalformedValues(t *testing.T) {
	_, err := finalise(DefaultAppConfig(), map[string]string{"CARTE_CACHE_TTL": "soon"})
	require.Error(t, err)

	_, err = finalise(DefaultAppConfig(), map[string]string{"CARTE_CACHE_FANOUT_WORKERS": "-1"})
	require.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Cache.FanoutWorkers = FanoutWorkers(6)
	raw, err := cfg.Encode()
	require.NoError(t, err)

	path := writeConfig(t, string(raw))
	loaded, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 6, loaded.Cache.FanoutWorkers.Count())
	require.Equal(t, cfg.Gateway, loaded.Gateway)
}
