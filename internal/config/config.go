// Package config loads eclssd's runtime configuration from built-in
// defaults, a config file, and ECLSSD_-prefixed environment variables, each
// overriding the one before it. Command-line flags are applied on top of the
// result by cmd/eclssd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the daemon.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	I2C     I2CConfig     `mapstructure:"i2c"`
	State   StateConfig   `mapstructure:"state"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Sensors SensorsConfig `mapstructure:"sensors"`
	Backoff BackoffConfig `mapstructure:"backoff"`
	MDNS    MDNSConfig    `mapstructure:"mdns"`

	// Location is included verbatim in /metrics.json; empty serializes as
	// JSON null.
	Location string `mapstructure:"location"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// I2CConfig selects the bus device eclssd talks to.
type I2CConfig struct {
	Device string `mapstructure:"device"`
}

// StateConfig controls calibration-baseline persistence.
type StateConfig struct {
	Directory string `mapstructure:"directory"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// SensorsConfig lists which sensor identities the supervisor should manage.
// An empty list means "probe the well-known set and run whatever answers".
type SensorsConfig struct {
	Enabled           []string `mapstructure:"enabled"`
	AbsHumidityStride int      `mapstructure:"abs_humidity_stride"`
}

// BackoffConfig controls the per-sensor retry policy (C3).
type BackoffConfig struct {
	InitialMS       int `mapstructure:"initial_ms"`
	MaxSeconds      int `mapstructure:"max_seconds"`
	MaxInitAttempts int `mapstructure:"max_init_attempts"`
}

// MDNSConfig carries the advertisement hint parameters; eclssd itself does
// not ship an mDNS responder (see DESIGN.md), but a deployment can splice one
// in using these values.
type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Location string `mapstructure:"location"`
}

// Load reads configuration from file and environment variables. configPath,
// if non-empty, names an explicit config file; otherwise the usual search
// path is used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("eclssd")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/eclssd")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("ECLSSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 4200)

	v.SetDefault("i2c.device", "/dev/i2c-1")

	v.SetDefault("state.directory", "/var/lib/eclss")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.dir", "")

	v.SetDefault("sensors.enabled", []string{})
	v.SetDefault("sensors.abs_humidity_stride", 1)

	v.SetDefault("backoff.initial_ms", 500)
	v.SetDefault("backoff.max_seconds", 60)
	v.SetDefault("backoff.max_init_attempts", 0)

	v.SetDefault("location", "")

	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.location", "")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "eclssd")
}
