// Package config loads the configuration of the qmux command from a
// YAML file, QMUX_ environment variables and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/manifold/qmux/golang/mux"
)

type Config struct {
	// Transport is one of tcp, unix or ws.
	Transport string `mapstructure:"transport"`

	// Listen is the address the server listens on.
	Listen string `mapstructure:"listen"`

	// Addr is the address clients dial.
	Addr string `mapstructure:"addr"`

	// Metrics is the listen address of the prometheus endpoint. Empty
	// disables it.
	Metrics string `mapstructure:"metrics"`

	Mux MuxConfig `mapstructure:"mux"`
	Log LogConfig `mapstructure:"log"`
}

// MuxConfig holds the session tunables. Zero selects the default.
type MuxConfig struct {
	WindowSize    uint32 `mapstructure:"window"`
	MaxPacketSize uint32 `mapstructure:"max_packet"`
	AcceptBacklog int    `mapstructure:"accept_backlog"`
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func Default() *Config {
	return &Config{
		Transport: "tcp",
		Listen:    "127.0.0.1:9998",
		Addr:      "127.0.0.1:9998",
		Mux: MuxConfig{
			WindowSize:    mux.WindowSizeDefault,
			MaxPacketSize: mux.MaxPacketSizeDefault,
			AcceptBacklog: mux.AcceptBacklogDefault,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads the configuration at path, or qmux.yaml in the working
// directory or ~/.qmux when path is empty. A missing file is not an
// error. Environment variables use the QMUX prefix with dots replaced
// by underscores, e.g. QMUX_LOG_LEVEL=debug. Overrides, keyed like the
// file, take precedence over everything else.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("metrics", cfg.Metrics)
	v.SetDefault("mux.window", cfg.Mux.WindowSize)
	v.SetDefault("mux.max_packet", cfg.Mux.MaxPacketSize)
	v.SetDefault("mux.accept_backlog", cfg.Mux.AcceptBacklog)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("QMUX_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("qmux")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".qmux"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "tcp", "unix", "ws":
	default:
		return fmt.Errorf("invalid transport: %q", c.Transport)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if err := c.MuxConfig(nil).Validate(); err != nil {
		return fmt.Errorf("mux: %w", err)
	}
	return nil
}

// MuxConfig returns the session configuration, logging to log.
func (c *Config) MuxConfig(log *zap.Logger) *mux.Config {
	return &mux.Config{
		WindowSize:    c.Mux.WindowSize,
		MaxPacketSize: c.Mux.MaxPacketSize,
		AcceptBacklog: c.Mux.AcceptBacklog,
		Logger:        log,
	}
}
