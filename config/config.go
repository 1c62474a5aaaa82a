package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. The nested structs mirror
// viper's key nesting so Unmarshal resolves every section.
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	DB           DatabaseConfig     `mapstructure:"database"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

// ServerConfig holds the local HTTP surface configuration
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds local store configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig holds the system-of-record RPC configuration
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Profile string        `mapstructure:"pos_profile"`
}

// SyncConfig holds sync engine configuration
type SyncConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// ConnectivityConfig holds connectivity monitor configuration
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Setup configuration paths
	v.AddConfigPath(path)
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// Continue with ENV vars and defaults when no config file is found
	}

	// Enable environment variables to override config
	v.SetEnvPrefix("POS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Core settings
	v.SetDefault("environment", "development")
	v.SetDefault("server.address", "127.0.0.1:8380")

	// Local store settings
	v.SetDefault("database.path", "smartpos.db")

	// Remote boundary settings
	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.pos_profile", "")

	// Sync settings
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retry_delay", "5s")

	// Connectivity settings
	v.SetDefault("connectivity.probe_interval", "10s")

	// Logging settings
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
