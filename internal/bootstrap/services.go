package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data"
	"github.com/mobiletester/mt-api/internal/devices"
	"github.com/mobiletester/mt-api/internal/observability/statsd"
	"github.com/mobiletester/mt-api/internal/report"
	"github.com/mobiletester/mt-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobOrchestrator
	Reaper        *service.ReaperService
	Artifacts     core.ArtifactStore
	Reports       core.ReportRenderer
	Catalog       *devices.Catalog
	Auth          AuthComponents
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "mobiletester",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires repositories, external adapters, and domain services.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	catalog := devices.NewCatalog()
	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})

	matrix, err := BuildMatrixClient(ctx, appCfg.TestLab, catalog, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build device lab client: %w", err)
	}
	analyzer := BuildAnalysisEngine(appCfg.Analysis, logger)
	artifacts, err := BuildArtifactStore(ctx, appCfg.Artifacts, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build artifact store: %w", err)
	}

	orchestrator, err := service.NewJobOrchestrator(service.OrchestratorOptions{
		Repo:      jobRepo,
		Matrix:    matrix,
		Analyzer:  analyzer,
		Artifacts: artifacts,
		Catalog:   catalog,
		Config:    appCfg.Orchestrator,
		Logger:    logger,
		Metrics:   observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build orchestrator: %w", err)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:      jobRepo,
		Config:    appCfg.Reaper,
		Artifacts: artifacts,
		Logger:    logger,
		Metrics:   observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper: %w", err)
	}

	auth := BuildAuth(AuthConfig{
		Auth:        appCfg.Auth,
		RedisClient: deps.RedisClient,
		Logger:      logger,
	})

	return ServiceContainer{
		Jobs:          orchestrator,
		Reaper:        reaper,
		Artifacts:     artifacts,
		Reports:       report.NewRenderer(),
		Catalog:       catalog,
		Auth:          auth,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		{
			mode: config.ServiceModeOrchestrator,
			name: "orchestrator",
			start: func(ctx context.Context) error {
				return deps.cfg.Services.Jobs.Run(ctx)
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				return deps.cfg.Services.Reaper.Run(ctx)
			},
		},
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, len(enabledServices)+1)

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
