package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/migrator/internal/control"
	"github.com/vietddude/migrator/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "migrator",
	Short: "Migration orchestration service",
	Long: `Migrator decides when pending record migrations run (auto, manual, hybrid,
scheduled or silent mode), reacts to domain events, and recovers from failures
with retries, rollbacks and a circuit breaker.`,
	RunE:          runMigrator,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the migrator service (default command)",
	RunE:  runMigrator,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// loadConfig loads .env and the config file, then installs the logger.
// A missing default config file falls back to built-in defaults.
func loadConfig(cmd *cobra.Command) *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	installLogger(cfg.Logging, isDebug)
	return cfg
}

// logLevel maps a configured level name. debug overrides it.
func logLevel(name string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newJSONLogger builds the logger used for the json format.
func newJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func installLogger(cfg config.LoggingConfig, debug bool) {
	level := logLevel(cfg.Level, debug)
	if strings.EqualFold(cfg.Format, "json") {
		slog.SetDefault(newJSONLogger(os.Stderr, level))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

func runMigrator(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.New(ctx, cfg, control.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	slog.Info("Migrator started", "config", cfgPath)
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("migrator stopped: %w", err)
	}
	return nil
}
