package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the emulator reads.
const EnvPrefix = "TASKS_EMULATOR"

// ConfigFileEnv names the environment variable holding an optional config file path.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

var defaults = map[string]any{
	"server.host":                   "127.0.0.1",
	"server.port":                   9499,
	"server.log_level":              "info",
	"emulator.refill_interval":      time.Second,
	"emulator.active_poll_interval": time.Millisecond,
	"emulator.idle_poll_interval":   time.Second,
	"emulator.shutdown_timeout":     10 * time.Second,
	"dispatch.default_timeout":      10 * time.Minute,
	"dispatch.user_agent":           "Google-Cloud-Tasks",
	"dispatch.max_idle_conns":       100,
}

// Load reads configuration from the environment. If TASKS_EMULATOR_CONFIG_FILE
// is set, that YAML file is read first; environment variables take precedence
// over it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("config_file", ConfigFileEnv)
	return load(v, v.GetString("config_file"))
}

// LoadWithFile is Load with an explicit config file path. An empty path reads
// no file.
func LoadWithFile(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// AutomaticEnv only resolves keys viper already knows about; binding each
	// default makes every key unmarshal from the environment.
	for key := range defaults {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("configuration validation failed: %s: %w", verrs[0].Namespace(), err)
		}
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
