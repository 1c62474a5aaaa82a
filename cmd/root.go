package cmd

import (
	"context"

	"example.com/smartpos/services/pos/config"
	"example.com/smartpos/services/pos/internal/connectivity"
	"example.com/smartpos/services/pos/internal/database"
	"example.com/smartpos/services/pos/internal/events"
	"example.com/smartpos/services/pos/internal/metrics"
	"example.com/smartpos/services/pos/internal/models"
	"example.com/smartpos/services/pos/internal/remote"
	"example.com/smartpos/services/pos/internal/repositories"
	"example.com/smartpos/services/pos/internal/services"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:   "pos",
	Short: "Offline-first POS data and sync core",
	Long:  `Local store and synchronization engine for the point-of-sale client`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// stack bundles the wired-up components a command needs.
type stack struct {
	cfg     config.Config
	db      *gorm.DB
	remote  *remote.HTTPClient
	bus     *events.Bus
	metrics *metrics.Metrics
	monitor *connectivity.Monitor
	service *services.SyncService
}

// initStack loads configuration and wires the core components. The caller
// owns the database handle and must close it.
func initStack(ctx context.Context) (*stack, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, err
	}

	// Log level is owned by the config surface; main only sets the writer.
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	db, err := database.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	metricsCollector := metrics.NewMetrics()
	remoteClient := remote.NewHTTPClient(cfg.Remote)
	monitor := connectivity.NewMonitor(remoteClient, bus, cfg.Connectivity.ProbeInterval)
	syncService := services.NewSyncService(db, remoteClient, monitor, bus, metricsCollector, cfg.Sync)

	// The configured POS profile seeds the setting once; after that the
	// stored value is authoritative.
	settings := repositories.NewSettingRepository(db)
	if cfg.Remote.Profile != "" {
		current, err := settings.Get(ctx, models.SettingPOSProfile)
		if err != nil {
			database.Close(db)
			return nil, err
		}
		if current == "" {
			if err := settings.Set(ctx, models.SettingPOSProfile, cfg.Remote.Profile); err != nil {
				database.Close(db)
				return nil, err
			}
		}
	}

	return &stack{
		cfg:     cfg,
		db:      db,
		remote:  remoteClient,
		bus:     bus,
		metrics: metricsCollector,
		monitor: monitor,
		service: syncService,
	}, nil
}
