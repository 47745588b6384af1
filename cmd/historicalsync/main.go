package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockcrawl/histsync/internal/chain"
	histcommon "github.com/blockcrawl/histsync/internal/common"
	"github.com/blockcrawl/histsync/internal/engine"
	"github.com/blockcrawl/histsync/internal/fetcher"
	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/internal/metrics"
	"github.com/blockcrawl/histsync/internal/store"
	"github.com/blockcrawl/histsync/pkg/config"
)

const version = "0.1.0"

var (
	configPath          string
	networkDefaultsPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "historicalsync",
	Short:   "historicalsync - blockchain historical log sync engine",
	Long:    `historicalsync fetches historical logs for a set of event sources, chunked and cached by block range, and exits once the configured range is fully covered.`,
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.Flags().StringVar(&networkDefaultsPath, "network-defaults", "", "optional path to a TOML network-defaults overlay")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(histcommon.ComponentCLI, &cfg.Logging)
	defer log.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metrics.Config{
			Enabled:       cfg.Metrics.Enabled,
			ListenAddress: cfg.Metrics.ListenAddress,
			Path:          cfg.Metrics.Path,
		})
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
		log.Infow("metrics server started", "address", cfg.Metrics.ListenAddress, "path", cfg.Metrics.Path)
	}

	log.Infow("connecting to chain rpc endpoint", "url", cfg.Network.RPCURL)
	chainClient, err := chain.Dial(ctx, cfg.Network.RPCURL, cfg.Network.Retry, logger.NewComponentLoggerFromConfig(histcommon.ComponentChainClient, &cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to dial chain rpc endpoint: %w", err)
	}
	defer chainClient.Close()

	log.Info("running database migrations")
	db, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer db.Close()

	if err := store.RunMigrations(logger.NewComponentLoggerFromConfig(histcommon.ComponentEventStore, &cfg.Logging), db); err != nil {
		return fmt.Errorf("failed to run event store migrations: %w", err)
	}
	eventStore := store.New(db, logger.NewComponentLoggerFromConfig(histcommon.ComponentEventStore, &cfg.Logging))
	defer eventStore.Close()

	logFetcher := fetcher.New(chainClient, logger.NewComponentLoggerFromConfig(histcommon.ComponentLogFetcher, &cfg.Logging), fmt.Sprintf("%d", cfg.Network.ChainID))

	sources, err := engine.SourcesFromConfig(cfg.Network, cfg.Sources)
	if err != nil {
		return fmt.Errorf("failed to build event sources: %w", err)
	}

	svc := engine.New(cfg.Network, sources, eventStore, logFetcher, chainClient, logger.NewComponentLoggerFromConfig(histcommon.ComponentScheduler, &cfg.Logging))

	log.Infow("setting up historical sync", "sources", len(sources))
	if err := svc.Setup(ctx); err != nil {
		return fmt.Errorf("failed to set up historical sync: %w", err)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.RegisterProgressCollector(svc.ProgressSnapshots); err != nil {
			log.Warnw("failed to register progress metrics collector", "error", err)
		}
	}

	svc.Start(ctx)

	for evt := range svc.Events() {
		switch evt.Kind {
		case engine.EventHistoricalCheckpoint:
			log.Infow("historical checkpoint", "blockNumber", evt.BlockNumber, "blockTimestamp", evt.BlockTimestamp)
		case engine.EventSyncComplete:
			log.Info("historical sync complete")
			svc.Kill()
			return nil
		}
		if ctx.Err() != nil {
			svc.Kill()
			return ctx.Err()
		}
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	if networkDefaultsPath != "" {
		return config.LoadFromFileWithNetworkDefaults(configPath, networkDefaultsPath)
	}
	return config.LoadFromFile(configPath)
}
