// Command carte runs the menu cache daemon and its local control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/carte/internal/app/menucache"
	"github.com/coachpo/carte/internal/infra/config"
	"github.com/coachpo/carte/internal/infra/gateway"
	"github.com/coachpo/carte/internal/infra/guardstore"
	"github.com/coachpo/carte/internal/infra/persistence/migrations"
	httpserver "github.com/coachpo/carte/internal/infra/server/http"
	"github.com/coachpo/carte/internal/infra/telemetry"
	"github.com/coachpo/carte/internal/observability"
)

const (
	defaultConfigPath            = "config/app.yaml"
	carteLoggerPrefix            = "carte "
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	guardStoreShutdownTimeout    = 5 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
	guardOpenTimeout             = 30 * time.Second
)

func main() {
	cfgPathFlag, warm := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newCarteLogger()

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, api=%s, guard=%s, ttl=%s",
		appCfg.Environment, appCfg.Gateway.BaseURL, appCfg.Guard.Driver, appCfg.Cache.TTL)

	structured, err := observability.NewZapLogger(appCfg.Logging.Level, appCfg.Logging.Format)
	if err != nil {
		logger.Fatalf("initialise logger: %v", err)
	}
	observability.SetLogger(structured)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	guard, err := openGuardStore(ctx, logger, appCfg.Guard)
	if err != nil {
		logger.Fatalf("open guard store: %v", err)
	}

	client, err := gateway.NewClient(gatewayOptions(appCfg.Gateway))
	if err != nil {
		logger.Fatalf("initialise menu api client: %v", err)
	}
	logger.Printf("menu api client ready: base=%s, client=%s", appCfg.Gateway.BaseURL, client.ClientID())

	cache := menucache.NewCache(client, guard, menucache.Config{
		TTL:           appCfg.Cache.TTL,
		FanoutWorkers: appCfg.Cache.FanoutWorkers.Count(),
		Logger:        structured,
	})
	session := menucache.NewSession(cache, structured)

	var lifecycle conc.WaitGroup

	if warm {
		lifecycle.Go(func() {
			categories, err := session.LoadCategories(ctx)
			if err != nil {
				logger.Printf("warm-up: load categories: %v", err)
				return
			}
			logger.Printf("warm-up: categories loaded: %d", len(categories))
		})
	}

	apiServer := buildAPIServer(appCfg.APIServer, session, structured)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("control API listening on %s", apiServer.Addr)

	logger.Print("carte started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	shutdownErr := performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		guard:      guard,
		telemetry:  telemetryProvider,
		events:     structured,
	})
	_ = structured.Sync()

	if shutdownErr != nil {
		logger.Printf("shutdown completed with errors in %v: %v", time.Since(shutdownStart), shutdownErr)
		return
	}
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (string, bool) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	warm := flag.Bool("warm", true, "Load categories and the first category on startup")
	flag.Parse()
	return *cfgPath, *warm
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newCarteLogger() *log.Logger {
	return log.New(os.Stdout, carteLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func guardStoreConfig(cfg config.GuardConfig) guardstore.Config {
	return guardstore.Config{
		Driver:            guardstore.Driver(cfg.Driver),
		Path:              cfg.Path,
		DSN:               cfg.DSN,
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	}
}

func openGuardStore(ctx context.Context, logger *log.Logger, cfg config.GuardConfig) (guardstore.Store, error) {
	openCtx, cancel := context.WithTimeout(ctx, guardOpenTimeout)
	defer cancel()

	if cfg.Driver == config.GuardPostgres && cfg.RunMigrations {
		if err := migrations.Apply(openCtx, cfg.DSN, migrations.EmbeddedSource, logger); err != nil {
			return nil, fmt.Errorf("apply guard migrations: %w", err)
		}
	}
	store, err := guardstore.Open(openCtx, guardStoreConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Printf("guard store opened: driver=%s", cfg.Driver)
	return store, nil
}

func gatewayOptions(cfg config.GatewayConfig) gateway.Options {
	opts := gateway.Options{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		RetryAttempts:     cfg.Retry.Attempts,
		RetryMaxElapsed:   cfg.Retry.MaxElapsed,
		ClientID:          cfg.ClientID,
	}
	if cfg.Breaker.Enabled {
		opts.BreakerFailures = cfg.Breaker.Failures
		opts.BreakerCooldown = cfg.Breaker.Cooldown
	}
	return opts
}

func buildAPIServer(cfg config.APIServerConfig, session httpserver.Session, logger observability.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(session, logger),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	guard      guardstore.Store
	telemetry  *telemetry.Provider
	events     observability.Logger
}

// performGracefulShutdown runs every step even when earlier ones fail and
// returns the joined step failures.
func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) error {
	failures := observability.NewStepErrors("shutdown")
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			failures.Record(name, err)
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.guard != nil {
		shutdownStep("closing guard store", guardStoreShutdownTimeout, func(context.Context) error {
			return cfg.guard.Close()
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	return failures.Err(cfg.events)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
