// Package config loads todosync configuration from file, environment, and
// flags via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the full todosync configuration.
type Config struct {
	// APIBaseURL is the backend root for bulk fetches and the realtime
	// subscription.
	APIBaseURL string `mapstructure:"api_base_url"`

	// APIToken authenticates against the backend.
	APIToken string `mapstructure:"api_token"`

	// ProjectID selects the project to sync.
	ProjectID string `mapstructure:"project_id"`

	// Channel is the opaque realtime subscription channel. Defaults to the
	// project id when empty.
	Channel string `mapstructure:"channel"`

	// DashboardAddr is the dashboard listen address.
	DashboardAddr string `mapstructure:"dashboard_addr"`

	// DebounceWindow coalesces render requests.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`

	// ReorderWindow buffers failed events before replay.
	ReorderWindow time.Duration `mapstructure:"reorder_window"`

	// AnimationPoll delays the flush after the last exit animation.
	AnimationPoll time.Duration `mapstructure:"animation_poll"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFile enables rotating file logging when set.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB caps a log file before rotation.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`

	// LogMaxBackups caps the number of rotated log files kept.
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// setDefaults registers default values on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base_url", "http://localhost:9000")
	// Zero-value defaults register the keys so environment-only values
	// survive Unmarshal.
	v.SetDefault("api_token", "")
	v.SetDefault("project_id", "")
	v.SetDefault("channel", "")
	v.SetDefault("log_file", "")
	v.SetDefault("dashboard_addr", ":8080")
	v.SetDefault("debounce_window", 150*time.Millisecond)
	v.SetDefault("reorder_window", 3*time.Second)
	v.SetDefault("animation_poll", 50*time.Millisecond)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)
}

// Load reads configuration from the given file (optional), the environment
// (TODOSYNC_* variables), and defaults, in descending precedence below any
// flag bindings the caller registered on viper.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("todosync")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("todosync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/todosync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = cfg.ProjectID
	}

	return &cfg, nil
}

// Watch reloads the configuration whenever the config file changes and hands
// the result to onChange. Reload failures are reported through onError and
// leave the previous configuration in effect.
func Watch(v *viper.Viper, onChange func(Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("config reload failed: %w", err))
			}
			return
		}
		if cfg.Channel == "" {
			cfg.Channel = cfg.ProjectID
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate checks that the fields required to run the daemon are present.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	return nil
}
