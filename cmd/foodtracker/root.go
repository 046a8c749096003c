package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foodtracker/internal/config"
)

var (
	configPath   string
	logLevelFlag string
	storeDirFlag string

	// cfg is loaded by the root PersistentPreRunE before any subcommand runs.
	cfg *config.Config

	// logLevel backs the default logger so the config watcher can change the
	// level without replacing the handler.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "foodtracker",
	Short: "Embedding-based food matching and meal logging",
	Long: `foodtracker matches free-form meal descriptions (and, with a joint
image/text model, photos) against a food library and records what you ate.

Entries, goals and custom foods live in the store directory
(default ~/.food_tracker).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	pf.StringVar(&logLevelFlag, "log-level", "", "override server.log_level (debug, info, warn, error)")
	pf.StringVar(&storeDirFlag, "store-dir", "", "override store.dir")
}

// loadConfig reads --config. A missing file is only an error when the flag was
// set explicitly; otherwise the defaults apply.
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		loaded = config.Default()
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
	default:
		return err
	}

	if logLevelFlag != "" && !config.LogLevel(logLevelFlag).IsValid() {
		return fmt.Errorf("invalid --log-level %q", logLevelFlag)
	}
	applyFlagOverrides(loaded)
	cfg = loaded

	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger())
	slog.Debug("config loaded", "path", configPath, "provider", cfg.Providers.Embeddings.Name,
		"store", cfg.Store.Backend, "store_dir", cfg.StoreDir())
	return nil
}

// applyFlagOverrides copies the command-line overrides into c. The config
// watcher applies it to every reload too.
func applyFlagOverrides(c *config.Config) {
	if logLevelFlag != "" {
		c.Server.LogLevel = config.LogLevel(logLevelFlag)
	}
	if storeDirFlag != "" {
		c.Store.Dir = storeDirFlag
	}
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
