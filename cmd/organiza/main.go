// Command organiza is an offline-first personal planner core: a local
// SQLite store with a transactional outbox, a background sync daemon, and
// an embeddable remote authority server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"organiza/internal/config"
	"organiza/internal/store"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "organiza",
		Short:   "Offline-first planner with background sync",
		Long:    `Organiza keeps tasks, notes, inbox items and plans in a local SQLite database, records every mutation in a durable outbox, and syncs with a remote authority whenever one is reachable.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		initCmd(),
		daemonCmd(),
		serveCmd(),
		syncRunCmd(),
		statusCmd(),
		taskCmd(),
		noteCmd(),
		inboxCmd(),
		planCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the configured logger as
// the process default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// openStore opens the local database and seeds first-run defaults. Seeding
// is idempotent per key, so calling it on every start is safe.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.Seed(ctx, cfg.API.UserID); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to seed database: %w", err)
	}
	return st, nil
}
