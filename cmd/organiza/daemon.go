package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"organiza/internal/config"
	"organiza/internal/live"
	"organiza/internal/server"
	"organiza/internal/store"
	"organiza/internal/syncer"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the background sync process",
		Long:  `Starts a daemon that pushes local changes to the remote authority, pulls remote deltas, and rolls task statuses forward once a minute.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if cfg.Seed.Demo {
				if err := seedDemo(ctx, st); err != nil {
					slog.Warn("demo seed failed", "error", err)
				}
			}

			var notifier syncer.Notifier
			var hub *live.Hub
			if cfg.Live.Port > 0 {
				hub = live.NewHub(cfg.Live.Port, slog.Default())
				if err := hub.Start(); err != nil {
					return err
				}
				defer hub.Stop()
				notifier = hub
			}

			client := syncer.NewClient(st, cfg, slog.Default(), notifier)
			daemon := syncer.NewDaemon(client, st, cfg, slog.Default())

			// Status rollover runs on minute boundaries so an 09:00
			// task flips to active at 09:00, not up to a minute late.
			scheduler := cron.New()
			if _, err := scheduler.AddFunc("* * * * *", func() {
				changed, err := st.RunTimeTick(ctx, time.Now())
				if err != nil {
					slog.Error("time tick failed", "error", err)
					return
				}
				if changed > 0 {
					slog.Debug("time tick rolled statuses", "changed", changed)
				}
			}); err != nil {
				return fmt.Errorf("failed to schedule time tick: %w", err)
			}
			scheduler.Start()
			defer scheduler.Stop()

			if hub != nil {
				changes, unsubscribe := st.SubscribeOutbox()
				defer unsubscribe()
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case <-changes:
							stats, err := st.OutboxStats(ctx)
							if err != nil {
								continue
							}
							hub.Publish(live.EventOutboxChanged, map[string]any{
								"depth": stats.Pending,
							})
						}
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("shutting down...")
				cancel()
			}()

			slog.Info("daemon started", "database", cfg.Database.Path, "api", cfg.API.BaseURL)
			if err := daemon.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

// seedDemo creates sample content on an empty database so a fresh install
// has something on screen.
func seedDemo(ctx context.Context, st *store.Store) error {
	tasks, err := st.Tasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		return nil
	}
	today := time.Now().Format("2006-01-02")
	if _, err := st.CreateTask(ctx, "Planejar a semana", today); err != nil {
		return err
	}
	if _, err := st.CreateNote(ctx, "Bem-vindo", "Suas notas ficam aqui.", "yellow"); err != nil {
		return err
	}
	_, err = st.AddInboxItem(ctx, "Experimente promover este item para tarefa")
	return err
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the remote authority server",
		Long:  `Runs the sync authority: accepts pushed ops from devices, resolves conflicts by last writer wins, and serves cursor-based deltas.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := server.OpenStore(cfg.Server.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open authority database: %w", err)
			}
			defer st.Close()

			srv := server.NewServer(cfg.Server.Addr, st, slog.Default())
			if err := srv.Start(); err != nil {
				return err
			}
			slog.Info("authority listening", "addr", srv.Addr(), "database", cfg.Server.DatabasePath)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			slog.Info("shutting down...")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func syncRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "One sync cycle, then exit",
		Long:  `Pushes pending outbox entries and pulls remote changes once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			client := syncer.NewClient(st, cfg, slog.Default(), nil)
			if err := client.Sync(ctx, true); err != nil {
				return err
			}
			fmt.Println("Sync completed successfully.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database and outbox status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			version, err := st.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			stats, err := st.OutboxStats(ctx)
			if err != nil {
				return err
			}
			cursor, err := st.Cursor(ctx)
			if err != nil {
				return err
			}

			fmt.Println("=== Organiza Status ===")
			fmt.Printf("Database: %s (schema v%d)\n", st.Path(), version)
			if cfg.API.BaseURL != "" {
				fmt.Printf("Remote: %s\n", cfg.API.BaseURL)
			} else {
				fmt.Println("Remote: not configured (local-only mode)")
			}
			fmt.Printf("Pending ops: %d\n", stats.Pending)
			if stats.OldestPending != "" {
				fmt.Printf("  Oldest: %s\n", stats.OldestPending)
			}
			fmt.Printf("Sync cursor: %s\n", cursor)
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long:  `Writes a config.yaml with defaults to the user config directory, or to the path given with --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				dir, err := config.ConfigDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "config.yaml")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists: %s", path)
			}

			cfg := config.DefaultConfig()
			out := map[string]any{
				"database": map[string]any{"path": cfg.Database.Path},
				"api": map[string]any{
					"base_url": "",
					"user_id":  cfg.API.UserID,
				},
				"sync": map[string]any{
					"interval_seconds": cfg.Sync.IntervalSeconds,
					"debounce_ms":      cfg.Sync.DebounceMs,
					"probe_seconds":    cfg.Sync.ProbeSeconds,
					"timeout_seconds":  cfg.Sync.TimeoutSeconds,
				},
				"server": map[string]any{
					"addr":          cfg.Server.Addr,
					"database_path": cfg.Server.DatabasePath,
				},
				"live": map[string]any{"port": 0},
				"log":  map[string]any{"level": cfg.Log.Level, "file": ""},
			}
			data, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}
