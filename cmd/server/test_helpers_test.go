package main

import (
	"testing"
	"time"

	"github.com/phrazzld/tasks-emulator/internal/config"
	"github.com/phrazzld/tasks-emulator/internal/testutils"
	"github.com/stretchr/testify/require"
)

// testConfig returns a configuration with fast timers for end-to-end tests.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 9499, LogLevel: "debug"},
		Emulator: config.EmulatorConfig{
			RefillInterval:     10 * time.Millisecond,
			ActivePollInterval: time.Millisecond,
			IdlePollInterval:   10 * time.Millisecond,
			ShutdownTimeout:    time.Second,
		},
		Dispatch: config.DispatchConfig{
			DefaultTimeout: 5 * time.Second,
			UserAgent:      "Google-Cloud-Tasks",
			MaxIdleConns:   4,
		},
	}
}

func newTestApp(t *testing.T) *application {
	t.Helper()
	app, err := newApplication(testConfig(), testutils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}
