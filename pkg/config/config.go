package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/soundprediction/go-timeline/pkg/utils"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Discovery loop configuration
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`

	// Day resolution configuration
	Resolver ResolverConfig `mapstructure:"resolver"`

	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"` // neo4j, memory
	URI         string        `mapstructure:"uri"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker settings for store calls
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// MaintenanceConfig holds discovery loop settings
type MaintenanceConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WorkDelay        time.Duration `mapstructure:"work_delay"`
	IdleDelay        time.Duration `mapstructure:"idle_delay"`
	MaxParallelDays  int           `mapstructure:"max_parallel_days"`
	AvailabilityPoll time.Duration `mapstructure:"availability_poll"`
	ListenChanges    bool          `mapstructure:"listen_changes"`
}

// ResolverConfig holds day resolution settings
type ResolverConfig struct {
	Creator       string `mapstructure:"creator"`
	SerializeDays bool   `mapstructure:"serialize_days"`
}

// CacheConfig holds day cache settings
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"` // empty keeps badger in memory
	TTL     time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig holds error telemetry settings
type TelemetryConfig struct {
	DuckDBPath string `mapstructure:"duckdb_path"` // empty disables
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "neo4j", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Maintenance.WorkDelay <= 0 || c.Maintenance.IdleDelay <= 0 {
		return fmt.Errorf("maintenance delays must be positive")
	}
	if c.Maintenance.MaxParallelDays < 0 {
		return fmt.Errorf("maintenance.max_parallel_days must not be negative")
	}
	if strings.TrimSpace(c.Resolver.Creator) == "" {
		return fmt.Errorf("resolver.creator must not be empty")
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.driver", "neo4j")
	v.SetDefault("database.uri", "bolt://localhost:7687")
	v.SetDefault("database.username", "neo4j")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "neo4j")
	v.SetDefault("database.call_timeout", 30*time.Second)
	v.SetDefault("database.breaker.max_failures", 5)
	v.SetDefault("database.breaker.open_timeout", 30*time.Second)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.work_delay", time.Second)
	v.SetDefault("maintenance.idle_delay", 600*time.Second)
	v.SetDefault("maintenance.max_parallel_days", 0)
	v.SetDefault("maintenance.availability_poll", time.Second)
	v.SetDefault("maintenance.listen_changes", true)

	// Resolver defaults
	v.SetDefault("resolver.creator", "urn:go-timeline:maintainer")
	v.SetDefault("resolver.serialize_days", true)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.ttl", 0)

	v.SetDefault("telemetry.duckdb_path", "")
	v.SetDefault("metrics.enabled", true)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// Database credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		config.Database.Database = db
	}
	config.Database.CallTimeout = utils.GetDurationEnv("NEO4J_CALL_TIMEOUT", config.Database.CallTimeout)

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			config.Server.Port = p
		}
	}
}

// Addr returns the listen address for the HTTP server
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
