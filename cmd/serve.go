package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/smartpos/services/pos/internal/api"
	"example.com/smartpos/services/pos/internal/database"
	"example.com/smartpos/services/pos/internal/services"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the POS core",
	Long:  `Start the local store, sync engine, connectivity monitor and HTTP API`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := initStack(ctx)
	if err != nil {
		return err
	}
	defer database.Close(s.db)

	// Configure logging
	if s.cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Close the crash window between a record write and its enqueue
	reenqueued, err := s.service.ReconcileQueue(ctx)
	if err != nil {
		return err
	}
	if reenqueued > 0 {
		log.Warn().Int("count", reenqueued).Msg("Re-enqueued orphaned records at startup")
	}

	// The scheduler follows connectivity transitions
	scheduler := services.NewSyncScheduler(s.service, s.cfg.Sync.Interval)
	unsubscribe := s.bus.Subscribe(scheduler.OnEvent(ctx))
	defer unsubscribe()
	defer scheduler.Disarm()

	server := api.NewServer(s.cfg, s.service, s.metrics)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.monitor.Start(ctx)
		return nil
	})

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("POS core shut down")
	return nil
}
