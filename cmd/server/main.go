// Package main implements the entry point for the local task queue emulator,
// which accepts queue and task requests over HTTP and dispatches tasks to
// their targets with rate limiting and retries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/tasks-emulator/internal/config"
	"github.com/phrazzld/tasks-emulator/internal/platform/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "tasks-emulator",
		Usage: "Run a local task queue emulator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars(config.ConfigFileEnv),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd.String("config"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes the application and serves until a shutdown signal.
func run(ctx context.Context, configPath string) error {
	cfg, l, err := initializeApp(configPath)
	if err != nil {
		return err
	}

	app, err := newApplication(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("Server configuration loaded",
		"address", cfg.Server.Address(),
		"log_level", cfg.Server.LogLevel)
	l.Debug("Emulator configuration",
		"refill_interval", cfg.Emulator.RefillInterval,
		"active_poll_interval", cfg.Emulator.ActivePollInterval,
		"idle_poll_interval", cfg.Emulator.IdlePollInterval,
		"shutdown_timeout", cfg.Emulator.ShutdownTimeout,
		"dispatch_timeout", cfg.Dispatch.DefaultTimeout)

	return cfg, l, nil
}
