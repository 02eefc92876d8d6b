// Package main implements the entry point for the nsgateway binary, the
// HTTP control-plane gateway of a cluster node: it proxies pluggable
// service endpoints under a UI prefix and serves change-driven cluster
// state snapshots to long-polling and streaming clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigmod/ns-server/cluster"
	"github.com/sigmod/ns-server/config"
	"github.com/sigmod/ns-server/gateway"
	"github.com/sigmod/ns-server/health"
	"github.com/sigmod/ns-server/metric"
	"github.com/sigmod/ns-server/natsclient"
	"github.com/sigmod/ns-server/notify"
	"github.com/sigmod/ns-server/plugin"
	"github.com/sigmod/ns-server/proxy"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "nsgateway"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	deps, bridge, natsClient, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close(ctx)
	}
	if bridge != nil {
		defer func() { _ = bridge.Close() }()
	}

	server, err := gateway.NewServer(*deps)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	mux := http.NewServeMux()
	server.RegisterHTTPHandlers(mux)

	return runWithSignalHandling(ctx, cfg, mux, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting nsgateway (cluster control-plane gateway)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads configuration, falling back to defaults when no path was
// given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("No configuration file given, using defaults")
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildGateway assembles the gateway dependency graph: plugin registry,
// node state, relay, notification plumbing and the optional NATS change
// bridge.
func buildGateway(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*gateway.Dependencies, *notify.Bridge, *natsclient.Client, error) {
	registry, err := loadPlugins(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	coreMetrics := metricsRegistry.CoreMetrics()

	revision := cluster.NewConfigRevision()
	state := cluster.NewState(cfg.LocalAddress, cfg.LocalServices, portKeys(cfg), revision)
	locator := cluster.NewLocator(state, state, portKeys(cfg), cfg.LocalAddress)

	bus := notify.NewBus(notify.WithWatcherGauge(coreMetrics.WatchersActive))
	revision.OnAdvance(bus.Publish)

	relay := proxy.NewRelay(locator,
		proxy.WithTimeout(cfg.ProxyTimeout()),
		proxy.WithIdentityHeader(cfg.IdentityHeader),
		proxy.WithLogger(logger),
		proxy.WithMetrics(coreMetrics),
	)

	bridge, natsClient, err := setupChangeBridge(ctx, cfg, revision, coreMetrics, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	monitor := health.NewMonitor()
	monitor.Update("plugins", health.Healthy("plugins",
		fmt.Sprintf("%d specs loaded", registry.Len())))
	if natsClient != nil {
		monitor.RegisterProbe("nats", func() health.Status {
			if natsClient.IsConnected() {
				return health.Healthy("", "connected")
			}
			return health.Degraded("", "reconnecting")
		})
	}

	deps := &gateway.Dependencies{
		Config:   cfg,
		Registry: registry,
		Relay:    relay,
		Bus:      bus,
		Revision: revision,
		Builder:  state,
		Health:   monitor,
		Metrics:  metricsRegistry,
		Logger:   logger,
	}
	return deps, bridge, natsClient, nil
}

// loadPlugins assembles spec sources: inline overrides first so their
// prefixes win collisions, then the lexically ordered spec directory.
func loadPlugins(cfg *config.Config, logger *slog.Logger) (*plugin.Registry, error) {
	var sources []plugin.Source
	for i, raw := range cfg.PluginOverrides {
		sources = append(sources, plugin.LiteralSource{
			Label:   fmt.Sprintf("config-override-%d", i),
			Payload: raw,
		})
	}

	if cfg.PluginDir != "" {
		dirSources, err := plugin.DirSources(cfg.PluginDir)
		if err != nil {
			return nil, fmt.Errorf("scan plugin dir: %w", err)
		}
		sources = append(sources, dirSources...)
	}

	registry, err := plugin.Load(logger, sources)
	if err != nil {
		return nil, fmt.Errorf("load plugin specs: %w", err)
	}

	slog.Info("plugin specs loaded", "count", registry.Len())
	return registry, nil
}

// portKeys merges configured service-port key overrides over the built-in
// table.
func portKeys(cfg *config.Config) map[string]string {
	keys := cluster.DefaultPortKeys()
	for svc, key := range cfg.ServicePorts {
		keys[svc] = key
	}
	return keys
}

// setupChangeBridge connects the optional NATS change bridge. An empty NATS
// URL means the gateway runs standalone.
func setupChangeBridge(
	ctx context.Context,
	cfg *config.Config,
	revision *cluster.ConfigRevision,
	coreMetrics *metric.Metrics,
	logger *slog.Logger,
) (*notify.Bridge, *natsclient.Client, error) {
	if cfg.NATS.URL == "" {
		slog.Info("No NATS URL configured, running without change bridge")
		return nil, nil, nil
	}

	natsClient, err := natsclient.New(cfg.NATS.URL,
		natsclient.WithClientName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(coreMetrics),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.Connect(connCtx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	bridge := notify.NewBridge(natsClient, cfg.NATS.Subject, revision, logger)
	if err := bridge.Listen(); err != nil {
		_ = natsClient.Close(ctx)
		return nil, nil, fmt.Errorf("start change bridge: %w", err)
	}

	return bridge, natsClient, nil
}

// runWithSignalHandling serves HTTP until a shutdown signal arrives, then
// drains in-flight requests within the shutdown timeout.
func runWithSignalHandling(ctx context.Context, cfg *config.Config, mux *http.ServeMux, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)

	group.Go(func() error {
		slog.Info("HTTP server listening", "address", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("nsgateway shutdown complete")
	return nil
}
