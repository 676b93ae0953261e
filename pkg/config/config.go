package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Cache      CacheConfig      `json:"cache"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// Addr returns the host:port address of the Redis server
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheConfig contains cache behavior configuration
type CacheConfig struct {
	// Backend selects the cache backend: "redis" or "memory". The manager
	// falls back to memory when Redis is unreachable at startup.
	Backend              string        `json:"backend"`
	DefaultTTL           time.Duration `json:"default_ttl"`
	CostSummaryTTL       time.Duration `json:"cost_summary_ttl"`
	ComplianceTTL        time.Duration `json:"compliance_ttl"`
	ResourceInventoryTTL time.Duration `json:"resource_inventory_ttl"`
	IdentityInventoryTTL time.Duration `json:"identity_inventory_ttl"`
	SyncStatusTTL        time.Duration `json:"sync_status_ttl"`
	SweepInterval        time.Duration `json:"sweep_interval"`
}

// MonitoringConfig contains sync monitoring and alerting thresholds
type MonitoringConfig struct {
	// ZeroRecordRuns is how many consecutive zero-record completions of a
	// job type raise a no_records alert
	ZeroRecordRuns int `json:"zero_record_runs"`
	// ErrorRateWindow is how many recent finished runs the high_error_rate
	// rule inspects
	ErrorRateWindow int `json:"error_rate_window"`
	// ErrorRateThreshold is the errors/records fraction above which the
	// high_error_rate rule fires
	ErrorRateThreshold float64 `json:"error_rate_threshold"`
	// StaleMultiplier scales the expected interval before a job type is
	// considered stale
	StaleMultiplier float64 `json:"stale_multiplier"`
	// StaleEscalateMultiplier scales the expected interval before a stale
	// alert escalates from warning to error severity
	StaleEscalateMultiplier float64 `json:"stale_escalate_multiplier"`
	// StaleRunningAfter is how long a Running log row may sit without
	// progress before the read path reports it as stale/unknown
	StaleRunningAfter time.Duration `json:"stale_running_after"`
	// ErrorMessageMaxLen is the truncation limit for persisted error text
	ErrorMessageMaxLen int `json:"error_message_max_len"`
	// StaleCheckSchedule is the cron expression for the periodic stale-sync
	// check
	StaleCheckSchedule string `json:"stale_check_schedule"`
	// ExpectedIntervalHours maps job types to their expected scheduling
	// interval for the stale_sync rule
	ExpectedIntervalHours map[string]float64 `json:"expected_interval_hours"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "stackwatch"),
			User:            getEnvString("DB_USER", "stackwatch"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Cache: CacheConfig{
			Backend:              getEnvString("CACHE_BACKEND", "redis"),
			DefaultTTL:           getEnvDuration("CACHE_DEFAULT_TTL", 30*time.Minute),
			CostSummaryTTL:       getEnvDuration("CACHE_COST_SUMMARY_TTL", 1*time.Hour),
			ComplianceTTL:        getEnvDuration("CACHE_COMPLIANCE_TTL", 30*time.Minute),
			ResourceInventoryTTL: getEnvDuration("CACHE_RESOURCE_INVENTORY_TTL", 15*time.Minute),
			IdentityInventoryTTL: getEnvDuration("CACHE_IDENTITY_INVENTORY_TTL", 15*time.Minute),
			SyncStatusTTL:        getEnvDuration("CACHE_SYNC_STATUS_TTL", 5*time.Minute),
			SweepInterval:        getEnvDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		},
		Monitoring: MonitoringConfig{
			ZeroRecordRuns:          getEnvInt("MONITORING_ZERO_RECORD_RUNS", 3),
			ErrorRateWindow:         getEnvInt("MONITORING_ERROR_RATE_WINDOW", 10),
			ErrorRateThreshold:      getEnvFloat("MONITORING_ERROR_RATE_THRESHOLD", 0.3),
			StaleMultiplier:         getEnvFloat("MONITORING_STALE_MULTIPLIER", 2.0),
			StaleEscalateMultiplier: getEnvFloat("MONITORING_STALE_ESCALATE_MULTIPLIER", 3.0),
			StaleRunningAfter:       getEnvDuration("MONITORING_STALE_RUNNING_AFTER", 6*time.Hour),
			ErrorMessageMaxLen:      getEnvInt("MONITORING_ERROR_MESSAGE_MAX_LEN", 500),
			StaleCheckSchedule:      getEnvString("MONITORING_STALE_CHECK_SCHEDULE", "@every 1h"),
			ExpectedIntervalHours: map[string]float64{
				"cost_sync":       24,
				"compliance_sync": 12,
				"resource_sync":   6,
				"identity_sync":   24,
				"security_sync":   12,
			},
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Monitoring.ZeroRecordRuns < 1 {
		return fmt.Errorf("zero record runs must be at least 1")
	}

	if c.Monitoring.ErrorRateThreshold <= 0 || c.Monitoring.ErrorRateThreshold > 1 {
		return fmt.Errorf("error rate threshold must be in (0, 1]")
	}

	if c.Monitoring.StaleMultiplier < 1 {
		return fmt.Errorf("stale multiplier must be at least 1")
	}

	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}

	return nil
}

// Environment variable helpers

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
