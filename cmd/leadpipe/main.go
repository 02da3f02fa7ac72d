package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"leadpipe/internal/config"
	"leadpipe/internal/constants"
	"leadpipe/internal/logger"
	"leadpipe/pkg/logging"
)

var (
	configFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          constants.ServiceName,
		Short:        "Lead intake service",
		Long:         "leadpipe accepts lead webhooks and delivers them to the lead sheet, by SMS and to the warehouse",
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to an optional YAML config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), deadLetterCmd(), queueCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP intake and both delivery workers",
		RunE:  runServe,
	}
}

// loadConfig reads the config file when one is given; the environment alone
// is enough to run.
func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.InfowCtx(ctx, "Starting leadpipe", "port", cfg.Server.Port)

	app := NewApp(cfg, log)
	if err := app.Initialize(ctx); err != nil {
		log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
		if shutdownErr := app.Shutdown(context.Background()); shutdownErr != nil {
			log.ErrorwCtx(ctx, "Cleanup after failed start", "error", shutdownErr)
		}
		return fmt.Errorf("initialize: %w", err)
	}

	runErr := app.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		log.ErrorwCtx(ctx, "Shutdown failed", "error", err)
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.InfowCtx(ctx, "Shutdown complete")
	return nil
}
