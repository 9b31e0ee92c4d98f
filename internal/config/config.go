// Package config loads hub settings from app_settings.json, placed next to
// the binary or in the user config dir. A missing file yields defaults and a
// fresh file written back so operators have something to edit. SATHUB_*
// environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the settings file the hub looks for on startup.
const ConfigFileName = "app_settings.json"

// Config holds the hub's runtime settings.
type Config struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Environment      string `mapstructure:"environment"` // "development" or "production"
	CORSAllowOrigins string `mapstructure:"cors_allow_origins"`

	HeartbeatCheckIntervalSeconds int `mapstructure:"heartbeat_check_interval_seconds"`
	ClientTimeoutSeconds          int `mapstructure:"client_timeout_seconds"`

	// GroupRetentionSeconds is how long an emptied group keeps its task
	// state before it is discarded.
	GroupRetentionSeconds int `mapstructure:"group_retention_seconds"`

	MaxCustomSharedDataBytes int `mapstructure:"max_custom_shared_data_bytes"`
	SendBufferSize           int `mapstructure:"send_buffer_size"`
	MaxMessageSizeBytes      int `mapstructure:"max_message_size_bytes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8088)
	v.SetDefault("environment", "production")
	v.SetDefault("cors_allow_origins", "*")
	v.SetDefault("heartbeat_check_interval_seconds", 15)
	v.SetDefault("client_timeout_seconds", 60)
	v.SetDefault("group_retention_seconds", 30)
	v.SetDefault("max_custom_shared_data_bytes", 64*1024)
	v.SetDefault("send_buffer_size", 256)
	v.SetDefault("max_message_size_bytes", 64*1024)
}

// Load reads the configuration, searching the executable's directory first
// and the user config dir second. When no file exists anywhere, defaults are
// used and written to the preferred location.
func Load() (*Config, error) {
	path, found, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	return loadFrom(path, found)
}

// LoadFile reads the configuration from an explicit settings file.
func LoadFile(path string) (*Config, error) {
	return loadFrom(path, true)
}

func loadFrom(path string, found bool) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)
	v.SetEnvPrefix("SATHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if found {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if werr := v.WriteConfigAs(path); werr != nil {
				// Best-effort: a read-only install dir is not a reason to
				// refuse startup.
				fmt.Fprintf(os.Stderr, "could not write default config to %s: %v\n", path, werr)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigPath returns the settings file to use and whether it already
// exists. The preferred write location is the executable's directory; the
// user config dir is the fallback for both reading and writing.
func resolveConfigPath() (string, bool, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ConfigFileName))
	}
	if userDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(userDir, "sathub", ConfigFileName))
	}
	if len(candidates) == 0 {
		return "", false, errors.New("no usable config location: executable path and user config dir both unavailable")
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true, nil
		}
	}
	return candidates[0], false, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.HeartbeatCheckIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("heartbeat_check_interval_seconds must be at least 1, got %d", c.HeartbeatCheckIntervalSeconds))
	}
	if c.ClientTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("client_timeout_seconds must be at least 1, got %d", c.ClientTimeoutSeconds))
	}
	if c.GroupRetentionSeconds < 0 {
		errs = append(errs, fmt.Errorf("group_retention_seconds must not be negative, got %d", c.GroupRetentionSeconds))
	}
	if c.SendBufferSize < 1 {
		errs = append(errs, fmt.Errorf("send_buffer_size must be at least 1, got %d", c.SendBufferSize))
	}
	if c.MaxMessageSizeBytes < 1024 {
		errs = append(errs, fmt.Errorf("max_message_size_bytes must be at least 1024, got %d", c.MaxMessageSizeBytes))
	}

	return errors.Join(errs...)
}

// Default returns the built-in configuration, as Load would produce with no
// file and no environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// HeartbeatCheckInterval returns the supervisor tick period.
func (c *Config) HeartbeatCheckInterval() time.Duration {
	return time.Duration(c.HeartbeatCheckIntervalSeconds) * time.Second
}

// ClientTimeout returns the maximum silent period before eviction.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSeconds) * time.Second
}

// GroupRetention returns the empty-group grace period.
func (c *Config) GroupRetention() time.Duration {
	return time.Duration(c.GroupRetentionSeconds) * time.Second
}
