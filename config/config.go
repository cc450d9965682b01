// Package config loads the Inlet configuration: TOML file, environment
// overrides (INLET_ prefix, dots become underscores), and defaults.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/inlethq/inlet/errors"
)

// Config is the full Inlet configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Ticker   TickerConfig   `mapstructure:"ticker"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WorkerConfig configures the job worker pool
type WorkerConfig struct {
	Workers             int `mapstructure:"workers"`               // concurrent job workers (default: 2)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // queue poll interval (default: 5)
	RetryLimit          int `mapstructure:"retry_limit"`           // total attempts per job (default: 3)
}

// TickerConfig configures the schedule ticker
type TickerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"` // due-schedule check interval (default: 1)
}

// FetchConfig configures outbound pull requests
type FetchConfig struct {
	TimeoutSeconds    int  `mapstructure:"timeout_seconds"`     // per-request timeout (default: 30)
	AllowPrivateHosts bool `mapstructure:"allow_private_hosts"` // permit loopback/private source URLs (default: false)
}

// DefaultServerPort is used when no port is configured.
const DefaultServerPort = 8720

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "inlet.db")

	v.SetDefault("server.port", DefaultServerPort)

	v.SetDefault("worker.workers", 2)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.retry_limit", 3)

	v.SetDefault("ticker.interval_seconds", 1)

	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.allow_private_hosts", false)
}

// Load reads configuration from defaults, an optional inlet.toml in the
// working directory, and INLET_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("INLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("inlet")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}
