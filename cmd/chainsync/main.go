package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/config"
	"github.com/oxSaturn/chainsync/internal/coordinator"
	"github.com/oxSaturn/chainsync/internal/db"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/metrics"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	"github.com/oxSaturn/chainsync/internal/syncstore/migrations"
	"github.com/oxSaturn/chainsync/pkg/api"
	"github.com/oxSaturn/chainsync/pkg/events"
)

const (
	version = "0.1.0"
	banner  = `
╔═══════════════════════════════════════════╗
║              chainsync v%s              ║
║   Omnichain blockchain sync engine        ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "chainsync",
	Short:   "chainsync - omnichain blockchain sync engine",
	Long:    `chainsync follows historical and realtime blocks across one or more chains, materializing matched log and block events into a local store.`,
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

func run(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.Logging == nil {
		cfg.Logging = &config.LoggingConfig{}
		cfg.Logging.ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentCoordinator, cfg.Logging)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("running database migrations...")
	migs, err := migrations.All()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if err := db.RunMigrations(cfg.DB.Path, migs); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	dbMaintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		database,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := dbMaintenance.Stop(); err != nil {
			log.Warnf("failed to stop maintenance: %v", err)
		}
	}()

	store := syncstore.New(database, logger.NewComponentLoggerFromConfig(common.ComponentSyncStore, cfg.Logging))
	store.SetMaintenance(dbMaintenance)

	log.Infof("connecting to %d network(s)...", len(cfg.Networks))
	coord, err := coordinator.New(ctx, cfg, store, logger.NewComponentLoggerFromConfig(common.ComponentCoordinator, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	defer coord.Kill()

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(
			cfg.API,
			store,
			coord,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	log.Info("starting historical sync...")
	for result := range coord.GetEvents(ctx) {
		if result.Err != nil {
			return fmt.Errorf("historical sync failed: %w", result.Err)
		}
		if len(result.Events) > 0 {
			log.Infof("materialized %d event(s)", len(result.Events))
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		log.Info("chainsync stopped before reaching realtime")
		return nil
	}

	log.Info("reached tip, switching to realtime sync...")
	coord.StartRealtime(ctx, func(ev events.RealtimeEvent) {
		log.Infow("realtime event", "chain_id", ev.ChainID, "type", ev.Type, "count", len(ev.Events))
	})

	<-ctx.Done()
	log.Info("chainsync stopped")
	return nil
}
