package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gregtusar/assetrouter/internal/app"
	"github.com/gregtusar/assetrouter/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "assetrouter",
		Short: "Cross-asset conversion and routing engine",
		Long: `Prices, routes and settles conversions between fiat, crypto, credit,
NFT and DeFi holdings, and reports unified net-worth snapshots.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE:  runServe,
		},
		newClassifyCmd(),
		newFeesCmd(),
		newRateCmd(),
		newSnapshotCmd(),
	)
	return rootCmd
}

// setup loads configuration and wires the engine. The returned function
// releases everything setup acquired.
func setup(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var closeLog func() error
	logger, closeLog, err = app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		closeLog()
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("Asset router is running. Press Ctrl+C to stop.")
	if err := a.RunServe(ctx); err != nil {
		logger.WithError(err).Error("API server failed")
		return err
	}
	logger.Info("Asset router stopped")
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
