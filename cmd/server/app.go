package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tasks-emulator/internal/config"
	"github.com/phrazzld/tasks-emulator/internal/platform/httpdispatch"
	"github.com/phrazzld/tasks-emulator/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	transport  *httpdispatch.Transport
	controller *task.Controller
}

// newApplication creates the dispatch transport and the queue controller and
// starts the controller's poll loop.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	app := &application{
		config: cfg,
		logger: logger,
	}

	app.transport = httpdispatch.New(httpdispatch.Config{
		UserAgent:      cfg.Dispatch.UserAgent,
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		MaxIdleConns:   cfg.Dispatch.MaxIdleConns,
	}, logger)

	app.controller = task.NewController(task.ControllerConfig{
		RefillInterval:     cfg.Emulator.RefillInterval,
		ActivePollInterval: cfg.Emulator.ActivePollInterval,
		IdlePollInterval:   cfg.Emulator.IdlePollInterval,
	}, app.transport, logger)
	app.controller.Start()

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run serves HTTP until ctx is cancelled or a shutdown signal arrives.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the controller, waiting for in-flight dispatches up to the
// configured shutdown timeout.
func (app *application) cleanup() {
	if app.controller != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Emulator.ShutdownTimeout)
		defer cancel()
		if err := app.controller.Stop(ctx); err != nil {
			app.logger.Warn("Controller stopped with dispatches still in flight", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
