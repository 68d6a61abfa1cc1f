package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ipwatch daemon
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Geo       GeoConfig       `mapstructure:"geo"`
	Blocklist BlocklistConfig `mapstructure:"blocklist"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Detect    DetectConfig    `mapstructure:"detect"`
	Scan      ScanConfig      `mapstructure:"scan"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ConnString builds a pgx connection string from the settings.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis configuration for rate-limit state.
// When disabled, the in-memory limiter is used instead.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// GeoConfig holds geolocation provider settings. An empty MMDBPath
// disables geolocation; events are stored without country/city.
type GeoConfig struct {
	MMDBPath string        `mapstructure:"mmdb_path"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// BlocklistConfig holds blocklist cache settings
type BlocklistConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LimitsConfig holds rate limiting configuration. FailOpen decides the
// request-path behavior when the durable store or limiter backend is
// unreachable: allow the request through (true) or reject it (false).
type LimitsConfig struct {
	FailOpen  bool                  `mapstructure:"fail_open"`
	Anonymous RuleConfig            `mapstructure:"anonymous"`
	Authed    RuleConfig            `mapstructure:"authenticated"`
	Scopes    map[string]RuleConfig `mapstructure:"scopes"`
}

// RuleConfig is one (limit, window) pair
type RuleConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DetectConfig holds suspicion detector thresholds. Acceptable values are
// deployment-specific, so nothing here is hard-coded in the detectors.
type DetectConfig struct {
	Window          time.Duration `mapstructure:"window"`
	VolumeThreshold int           `mapstructure:"volume_threshold"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	RateThreshold   int           `mapstructure:"rate_threshold"`
	SensitivePaths  []string      `mapstructure:"sensitive_paths"`
	PathThreshold   int           `mapstructure:"path_threshold"`
	GeoMinInterval  time.Duration `mapstructure:"geo_min_interval"`
	BurstCount      int           `mapstructure:"burst_count"`
	BurstWindow     time.Duration `mapstructure:"burst_window"`
}

// ScanConfig holds orchestrator scheduling and retention settings
type ScanConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Lookback   time.Duration `mapstructure:"lookback"`
	Workers    int           `mapstructure:"workers"`
	Retention  time.Duration `mapstructure:"retention"`
	FindingTTL time.Duration `mapstructure:"finding_ttl"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "ipwatch")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "ipwatch")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.timeout", "5s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("geo.mmdb_path", "")
	v.SetDefault("geo.cache_ttl", "24h")

	v.SetDefault("blocklist.cache_ttl", "1h")

	v.SetDefault("limits.fail_open", false)
	v.SetDefault("limits.anonymous.limit", 5)
	v.SetDefault("limits.anonymous.window", "1m")
	v.SetDefault("limits.authenticated.limit", 10)
	v.SetDefault("limits.authenticated.window", "1m")

	v.SetDefault("detect.window", "1h")
	v.SetDefault("detect.volume_threshold", 100)
	v.SetDefault("detect.rate_window", "1m")
	v.SetDefault("detect.rate_threshold", 2)
	v.SetDefault("detect.sensitive_paths", []string{"/admin", "/login", "/api/admin"})
	v.SetDefault("detect.path_threshold", 50)
	v.SetDefault("detect.geo_min_interval", "1h")
	v.SetDefault("detect.burst_count", 20)
	v.SetDefault("detect.burst_window", "5m")

	v.SetDefault("scan.interval", "1h")
	v.SetDefault("scan.lookback", "1h")
	v.SetDefault("scan.workers", 8)
	v.SetDefault("scan.retention", "720h") // 30 days
	v.SetDefault("scan.finding_ttl", "168h")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("IPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
