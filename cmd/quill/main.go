package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientcmd "github.com/quillmq/quill/internal/cmd/client"
	serverrun "github.com/quillmq/quill/internal/cmd/server"
	cfgpkg "github.com/quillmq/quill/internal/config"
	"github.com/quillmq/quill/internal/storage/pebbleback"
	logpkg "github.com/quillmq/quill/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill message queue CLI",
		Long:  "Quill is a multi-tenant message queue. This CLI manages the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the quill server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			storageKind, _ := cmd.Flags().GetString("storage")
			postgresDSN, _ := cmd.Flags().GetString("postgres-dsn")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebbleback.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebbleback.FsyncModeNever
			case "interval":
				mode = pebbleback.FsyncModeInterval
			case "always":
				mode = pebbleback.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if storageKind != "" {
				cfg.Storage = storageKind
			}
			if postgresDSN != "" {
				cfg.PostgresDSN = postgresDSN
			}

			level := logpkg.InfoLevel
			if logLevel != "" {
				parsed, err := logpkg.ParseLevel(logLevel)
				if err != nil {
					return err
				}
				level = parsed
			}
			logger := logpkg.NewLogger(
				logpkg.WithLevel(level),
				logpkg.WithFormat(logFormat),
			)
			logpkg.RedirectStdLog(logger)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				Config:        cfg,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Logger:        logger,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("QUILL_CONFIG"), "Path to a JSON config file")
	serverStartCmd.Flags().String("data-dir", "", "Data directory for the pebble backend (default: OS application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8888)")
	serverStartCmd.Flags().String("storage", "", "Storage backend: pebble|memory|postgres")
	serverStartCmd.Flags().String("postgres-dsn", "", "Postgres connection string when --storage=postgres")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	serverStartCmd.Flags().String("log-level", os.Getenv("QUILL_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("QUILL_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewQueueCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewMessageCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewClaimCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("QUILL_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8888"
}
