package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// DefaultDeviceRegex matches partition objects of directly attached SCSI/USB
// disks as exposed by UDisks2.
const DefaultDeviceRegex = "^/org/freedesktop/UDisks2/block_devices/sd[a-z]{1}[1-9]{1}[0-9]*?$"

// configDir is where the optional configuration file lives.
const configDir = "/etc/caterpillar"

// knownKeys is the set of keys accepted in a configuration file. Anything
// else is rejected at startup.
var knownKeys = map[string]bool{
	"autorun":          true,
	"bundle_extension": true,
	"device_regex":     true,
	"override_dir":     true,
	"history_path":     true,
	"metrics_address":  true,
}

// Config holds all application configuration
type Config struct {
	// Autorun drives one full non-interactive update session at startup.
	Autorun bool `mapstructure:"autorun"`

	// BundleExtension is the file suffix identifying update bundles.
	BundleExtension string `mapstructure:"bundle_extension"`

	// DeviceRegex matches block device object paths eligible for mounting.
	DeviceRegex string `mapstructure:"device_regex"`

	// OverrideDir is the directory name searched inside each mountpoint for
	// override bundles.
	OverrideDir string `mapstructure:"override_dir"`

	// HistoryPath is the SQLite session history location. Empty disables it.
	HistoryPath string `mapstructure:"history_path"`

	// MetricsAddress is the listen address for prometheus metrics. Empty
	// disables the listener.
	MetricsAddress string `mapstructure:"metrics_address"`

	compiledDeviceRegex *regexp.Regexp
}

// Load reads configuration from defaults, an optional configuration file in
// /etc/caterpillar and CATERPILLAR_* environment variables.
func Load() (*Config, error) {
	viper.SetDefault("autorun", true)
	viper.SetDefault("bundle_extension", "raucb")
	viper.SetDefault("device_regex", DefaultDeviceRegex)
	viper.SetDefault("override_dir", "override")
	viper.SetDefault("history_path", "/var/lib/caterpillar/history.db")
	viper.SetDefault("metrics_address", "")

	viper.SetEnvPrefix("CATERPILLAR")
	viper.AutomaticEnv()

	viper.SetConfigName("caterpillar")
	viper.SetConfigType("toml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err == nil {
		if err := rejectUnknownKeys(viper.ConfigFileUsed()); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// rejectUnknownKeys re-reads the configuration file without defaults and
// fails on keys that are not part of the configuration surface.
func rejectUnknownKeys(path string) error {
	raw := viper.New()
	raw.SetConfigFile(path)
	raw.SetConfigType("toml")
	if err := raw.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	for _, key := range raw.AllKeys() {
		if !knownKeys[key] {
			return fmt.Errorf("unknown configuration key %q in %s", key, path)
		}
	}
	return nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.BundleExtension == "" {
		return fmt.Errorf("bundle_extension cannot be empty")
	}
	if strings.HasPrefix(c.BundleExtension, ".") {
		return fmt.Errorf("bundle_extension must not include the leading dot")
	}
	if c.OverrideDir == "" {
		return fmt.Errorf("override_dir cannot be empty")
	}
	if strings.ContainsAny(c.OverrideDir, `/\`) || c.OverrideDir == "." || c.OverrideDir == ".." {
		return fmt.Errorf("override_dir must be a single relative directory name")
	}
	re, err := regexp.Compile(c.DeviceRegex)
	if err != nil {
		return fmt.Errorf("device_regex is not a valid regular expression: %w", err)
	}
	c.compiledDeviceRegex = re
	return nil
}

// DevicePattern returns the compiled device_regex. Validate must have been
// called first.
func (c *Config) DevicePattern() *regexp.Regexp {
	if c.compiledDeviceRegex == nil {
		c.compiledDeviceRegex = regexp.MustCompile(c.DeviceRegex)
	}
	return c.compiledDeviceRegex
}
