// Command ptybridged exposes long-lived PTY sessions to an agent over
// stdio via the Model Context Protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ianremillard/ptybridge/internal/config"
	"github.com/ianremillard/ptybridge/internal/logging"
	"github.com/ianremillard/ptybridge/internal/registry"
	"github.com/ianremillard/ptybridge/internal/tools"
)

func main() {
	var (
		maxSessions int
		logDir      string
		logLevel    string
		configPath  string
	)

	root := &cobra.Command{
		Use:   "ptybridged",
		Short: "Exposes long-lived PTY sessions to an agent over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flagOverrides{}
			if cmd.Flags().Changed("max-sessions") {
				overrides.maxSessions = &maxSessions
			}
			if cmd.Flags().Changed("log-dir") {
				overrides.logDir = &logDir
			}
			if cmd.Flags().Changed("log-level") {
				overrides.logLevel = &logLevel
			}
			return run(configPath, overrides)
		},
	}
	root.Flags().IntVar(&maxSessions, "max-sessions", 10, "maximum concurrent PTY sessions")
	root.Flags().StringVar(&logDir, "log-dir", "", "directory for per-session output logs (must exist)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file overlaid onto defaults")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagOverrides carries only the CLI flags the user actually passed, so
// they overlay a loaded config file without reverting fields the file set
// back to the flag's own default value.
type flagOverrides struct {
	maxSessions *int
	logDir      *string
	logLevel    *string
}

func run(configPath string, overrides flagOverrides) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if overrides.maxSessions != nil {
		cfg.MaxSessions = *overrides.maxSessions
	}
	if overrides.logDir != nil {
		cfg.LogDir = *overrides.logDir
	}
	if overrides.logLevel != nil {
		cfg.LogLevel = *overrides.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	reg := registry.New(cfg.MaxSessions, cfg.LogDir, logger)
	defer reg.Shutdown()

	dispatcher := tools.NewDispatcher(
		reg,
		defaultShellCommand(),
		cfg.DefaultBufferSize,
		secondsToDuration(cfg.DefaultIdleTimeoutSeconds),
	)

	mcpServer := server.NewMCPServer("ptybridge", "1.0.0")
	dispatcher.Register(mcpServer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		reg.Shutdown()
	}()

	return server.ServeStdio(mcpServer)
}

func defaultShellCommand() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
