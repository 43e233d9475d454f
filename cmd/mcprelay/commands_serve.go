package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mcprelay/mcprelay/internal/config"
	"github.com/mcprelay/mcprelay/internal/lifecycle"
	"github.com/mcprelay/mcprelay/internal/mcpserver"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		host       string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mcprelay MCP server over stdio",
		Long: `Start the mcprelay MCP server.

The server speaks JSON-RPC 2.0 over stdin/stdout, the transport a coding
agent's own MCP client drives. --host and --port are reserved for a
future TCP transport; stdio is the only transport wired today.

Graceful shutdown: SIGTERM cancels in-flight operations without exiting,
so a supervising process can signal "stop accepting new work" without
killing the process outright. SIGINT cancels and exits.`,
		Example: `  # Start with default config discovery
  mcprelay serve

  # Start with an explicit config file
  mcprelay serve --config /etc/mcprelay/mcprelay.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				configPath: configPath,
				logLevel:   logLevel,
				host:       host,
				port:       port,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level from config (debug, info, warn, error)")
	cmd.Flags().StringVar(&host, "host", "", "Reserved for a future TCP transport")
	cmd.Flags().IntVar(&port, "port", 0, "Reserved for a future TCP transport")

	return cmd
}

type serveOptions struct {
	configPath string
	logLevel   string
	host       string
	port       int
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevelFromString(cfg.Logging.Level)}))

	projectID, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve project id: %w", err)
	}

	services, err := mcpserver.Build(ctx, cfg, projectID, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Error("error closing services", "error", err)
		}
	}()

	signalHandler := lifecycle.NewSignalHandler(services.Ops, logger)
	stop := signalHandler.Start()
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := services.StartMetricsServer(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	server := lifecycle.NewServer(os.Stdin, os.Stdout, services.Handle, logger)
	logger.Info("mcprelay server starting", "config", opts.configPath)
	return server.Serve(ctx)
}

func logLevelFromString(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
