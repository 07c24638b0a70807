// Package main is the entry point for the psbridge debug backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/psbridge/psbridge/internal/config"
	"github.com/psbridge/psbridge/internal/debug"
	"github.com/psbridge/psbridge/internal/event"
	"github.com/psbridge/psbridge/internal/logging"
	"github.com/psbridge/psbridge/internal/protocol"
	"github.com/psbridge/psbridge/internal/pwsh/hostproc"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configPath  string
	stdio       bool
	listen      string
	logLevel    string
	executable  string
	watchConfig bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:     "psbridge",
		Short:   "PowerShell debug backend for editor integration",
		Long:    "psbridge hosts a PowerShell engine and serves a JSON-RPC debug protocol\nto an editor over stdio or a websocket.",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().BoolVar(&f.stdio, "stdio", false, "serve the protocol over stdin/stdout")
	cmd.Flags().StringVar(&f.listen, "listen", "", "websocket listen address, e.g. 127.0.0.1:7310")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.executable, "pwsh", "", "PowerShell executable to launch")
	cmd.Flags().BoolVar(&f.watchConfig, "watch-config", false, "reload the config file when it changes")

	return cmd
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, level, err := logging.NewWithLevel(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.watchConfig && f.configPath != "" {
		watcher, err := config.NewWatcher(logger, f.configPath, func(next config.Config) {
			if parsed, err := zapcore.ParseLevel(next.Log.Level); err == nil {
				level.SetLevel(parsed)
			}
		})
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	bus := event.NewBus()

	logger.Info("starting powershell host",
		zap.String("executable", cfg.PowerShell.Executable))
	engine, err := hostproc.Start(ctx, hostproc.Options{
		Executable:     cfg.PowerShell.Executable,
		Args:           cfg.PowerShell.Args,
		StartupTimeout: cfg.PowerShell.StartupTimeout.Std(),
		SnapshotDepth:  cfg.Debug.SnapshotDepth,
		Logger:         logger.Named("hostproc"),
		Bus:            bus,
	})
	if err != nil {
		return fmt.Errorf("start powershell host: %w", err)
	}
	defer engine.Close()

	transport, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}

	conn := protocol.NewConn(transport, logger.Named("protocol"))
	svc := debug.NewService(logger.Named("debug"), bus, engine, engine, conn)
	defer svc.Close()

	debug.RegisterHandlers(conn, svc)
	conn.Start(ctx)
	defer conn.Close()

	logger.Info("psbridge ready", zap.String("version", version))

	select {
	case <-ctx.Done():
		logger.Info("shutting down on signal")
	case <-conn.Done():
		logger.Info("editor disconnected, shutting down")
	}
	return nil
}

// applyFlags overlays command-line flags onto the loaded configuration.
func applyFlags(cfg *config.Config, f flags) {
	if f.stdio {
		cfg.Transport.Stdio = true
	}
	if f.listen != "" {
		cfg.Transport.Listen = f.listen
		cfg.Transport.Stdio = false
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.executable != "" {
		cfg.PowerShell.Executable = f.executable
	}
}

func openTransport(cfg config.Config, logger *zap.Logger) (protocol.MessageTransport, error) {
	if cfg.Transport.Stdio {
		return protocol.NewStreamTransport(os.Stdin, os.Stdout, nil), nil
	}

	logger.Info("waiting for editor connection",
		zap.String("listen", cfg.Transport.Listen),
		zap.String("path", cfg.Transport.Path))
	transport, err := protocol.AcceptWebsocket(cfg.Transport.Listen, cfg.Transport.Path)
	if err != nil {
		return nil, fmt.Errorf("accept editor connection: %w", err)
	}
	return transport, nil
}
