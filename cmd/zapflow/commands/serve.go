package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapflow/pkg/zapflow/bot"
	"github.com/jholhewres/zapflow/pkg/zapflow/export"
	"github.com/jholhewres/zapflow/pkg/zapflow/gateway"
	"github.com/jholhewres/zapflow/pkg/zapflow/mailer"
	"github.com/jholhewres/zapflow/pkg/zapflow/retention"
)

// newServeCmd creates the `zapflow serve` command that starts the engine.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and connect to WhatsApp",
		Long: `Start ZapFlow, connecting to WhatsApp and processing messages.
On first run a QR code is printed for pairing.

Examples:
  zapflow serve
  zapflow serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Engine ──
	engine, err := bot.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	// ── Retention sweeper ──
	sweeper := retention.New(cfg.Retention, engine.Sessions(), logger)
	sweeper.Start()

	// ── HTTP gateway ──
	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		exporter := export.New(cfg.Export, logger)
		mail := mailer.New(cfg.Mailer, logger)
		gw = gateway.New(cfg.Gateway, engine.Users(), exporter, mail, engine.Transport(), logger)
		if err := gw.Start(); err != nil {
			logger.Error("failed to start gateway", "error", err)
		}
	}

	logger.Info("ZapFlow running. Press Ctrl+C to stop.", "name", cfg.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		if gw != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			cancelShutdown()
		}
		sweeper.Stop()
		engine.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the --config flag or standard locations.
func resolveConfig(cmd *cobra.Command) (*bot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := bot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := bot.FindConfigFile(); found != "" {
		cfg, err := bot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	return nil, fmt.Errorf("no configuration file found (looked for config.yaml, zapflow.yaml)")
}

// buildLogger configures slog from the logging section and --verbose.
func buildLogger(cmd *cobra.Command, cfg *bot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose, cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
