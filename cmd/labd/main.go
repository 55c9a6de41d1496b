// labd is the labdabbler daemon: it serves the lab lifecycle API and the
// metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iammrherb/labdabbler/internal/version"
	"github.com/iammrherb/labdabbler/pkg/catalog"
	"github.com/iammrherb/labdabbler/pkg/config"
	"github.com/iammrherb/labdabbler/pkg/launcher"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/monitoring"
	"github.com/iammrherb/labdabbler/pkg/provider"
	"github.com/iammrherb/labdabbler/pkg/scanner"
	"github.com/iammrherb/labdabbler/pkg/server"
	"github.com/iammrherb/labdabbler/pkg/state"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (YAML or JSON)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "labd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.InitializeGlobalLogger(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := logging.WithComponent("labd")
	logger.Info("starting %s", version.String())

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	factory, err := provider.NewFactory(cfg.Providers.ConfigPath, cfg.Providers.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize provider factory: %w", err)
	}
	defer factory.Close()

	var metrics *monitoring.Metrics
	if cfg.Monitoring.Metrics.Enabled {
		metrics = monitoring.NewMetrics(cfg.Monitoring.Metrics.Namespace, cfg.Monitoring.Metrics.Subsystem)
	}

	svc := launcher.NewService(factory, store, cfg.Launcher.ScratchDir, cfg.Launcher.RemoteStageDir, metrics)

	var cat *catalog.Service
	if cfg.Catalog.Enabled {
		cat = catalog.NewService(cfg.Catalog.CacheTTL)
	}
	scan := scanner.New(cfg.Scanner.RepoRoots, cfg.Scanner.GitHubToken)

	api := server.New(server.Options{
		Config:   cfg,
		Launcher: svc,
		Factory:  factory,
		Store:    store,
		Catalog:  cat,
		Scanner:  scan,
		Metrics:  metrics,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- api.Start()
	}()

	var metricsSrv *monitoring.Server
	if metrics != nil {
		metricsSrv = monitoring.NewServer(cfg.Monitoring.Metrics.Port, metrics)
		go func() {
			errCh <- metricsSrv.Start()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("metrics shutdown failed")
		}
	}

	logger.Info("stopped")
	return nil
}

func buildStore(cfg *config.Config) (state.Store, error) {
	switch cfg.Registry.Type {
	case "memory":
		return state.NewMemoryStore(), nil
	case "badger":
		store, err := state.NewBadgerStore(cfg.Registry.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown registry type %q", cfg.Registry.Type)
	}
}
