package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openfleet/dispatchd/app"
	"github.com/openfleet/dispatchd/config"
)

var simTrips int

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the service with the trip simulator enabled",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simTrips, "trips", 0, "number of synthetic trips (0 keeps the configured value)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Simulator.Enabled = true
	// The simulator seeds its fleet into the in-memory stores.
	cfg.Postgres.Enabled = false
	if simTrips > 0 {
		cfg.Simulator.Trips = simTrips
	}

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = svc.Close()
	}()
	return svc.Run(ctx)
}
