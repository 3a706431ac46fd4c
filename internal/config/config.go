package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all emulator configuration, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Emulator EmulatorConfig `mapstructure:"emulator" validate:"required"`
	Dispatch DispatchConfig `mapstructure:"dispatch" validate:"required"`
}

// ServerConfig contains the front door's listener and logging settings.
type ServerConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// EmulatorConfig tunes the controller's timers.
type EmulatorConfig struct {
	// RefillInterval is the period of every queue's token refill.
	RefillInterval time.Duration `mapstructure:"refill_interval" validate:"gt=0"`
	// ActivePollInterval is the loop delay while any queue has work; zero
	// yields to the scheduler between ticks.
	ActivePollInterval time.Duration `mapstructure:"active_poll_interval" validate:"gte=0"`
	IdlePollInterval   time.Duration `mapstructure:"idle_poll_interval" validate:"gt=0"`
	// ShutdownTimeout bounds how long in-flight dispatches are awaited on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DispatchConfig configures the outbound HTTP transport.
type DispatchConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// Address returns the host:port the server listens on.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
