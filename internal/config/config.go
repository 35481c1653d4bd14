// Package config handles application configuration loading and validation using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Economy       EconomyConfig       `mapstructure:"economy"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	Trust         TrustConfig         `mapstructure:"trust"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Rules         RulesConfig         `mapstructure:"rules"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig contains database connection settings for PostgreSQL and Redis.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	// AutoMigrate runs the embedded SQL migrations at startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the key/value connection string used by the gorm postgres driver.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection URL used by the migration driver.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig contains Redis connection and pool settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics exporter settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SchedulerConfig contains the cron expressions of the background jobs.
type SchedulerConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Timezone             string `mapstructure:"timezone"`
	RecomputeQueue       string `mapstructure:"recompute_queue"`
	HideExpiry           string `mapstructure:"hide_expiry"`
	Reconcile            string `mapstructure:"reconcile"`
	CounterPrune         string `mapstructure:"counter_prune"`
	CounterRetentionDays int    `mapstructure:"counter_retention_days"`
}

// GetLocation returns the timezone location.
func (c *SchedulerConfig) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// EconomyConfig contains day boundary and per-account serialisation settings.
type EconomyConfig struct {
	Timezone     string `mapstructure:"timezone"`
	DayStartHour int    `mapstructure:"day_start_hour"`
	// LockTTL bounds how long a crashed holder can keep an account lease.
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	LockWait time.Duration `mapstructure:"lock_wait"`
	// DBLockTimeout is applied as Postgres lock_timeout inside ledger transactions.
	DBLockTimeout time.Duration `mapstructure:"db_lock_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// QuotaConfig contains connection request quota settings.
type QuotaConfig struct {
	RoleDefaults    map[string]int `mapstructure:"role_defaults"`
	UnlimitedBadges []string       `mapstructure:"unlimited_badges"`
}

// TrustConfig contains trust score and review hiding settings.
type TrustConfig struct {
	HideCost        int64         `mapstructure:"hide_cost"`
	HideDuration    time.Duration `mapstructure:"hide_duration"`
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxJobAttempts  int           `mapstructure:"max_job_attempts"`
	JobRetryBackoff time.Duration `mapstructure:"job_retry_backoff"`
}

// NotificationsConfig groups outbound notification channels.
type NotificationsConfig struct {
	Mattermost MattermostConfig `mapstructure:"mattermost"`
}

// MattermostConfig contains Mattermost webhook notification settings.
type MattermostConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Enabled    bool   `mapstructure:"enabled"`
}

// RulesConfig locates the earning rule seed file.
type RulesConfig struct {
	SeedPath string `mapstructure:"seed_path"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reputation-engine/")
	}

	setDefaults(v)

	// Bind specific environment variables (explicit bindings for 12-factor app compliance)
	// Server configuration
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	// PostgreSQL configuration
	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")
	_ = v.BindEnv("database.postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS")
	_ = v.BindEnv("database.postgres.conn_max_lifetime", "POSTGRES_CONN_MAX_LIFETIME")
	_ = v.BindEnv("database.postgres.auto_migrate", "POSTGRES_AUTO_MIGRATE")

	// Redis configuration
	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")
	_ = v.BindEnv("database.redis.pool_size", "REDIS_POOL_SIZE")

	// Logging configuration
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	// Economy configuration
	_ = v.BindEnv("economy.timezone", "ECONOMY_TIMEZONE")
	_ = v.BindEnv("economy.day_start_hour", "ECONOMY_DAY_START_HOUR")
	_ = v.BindEnv("economy.lock_wait", "ECONOMY_LOCK_WAIT")
	_ = v.BindEnv("economy.max_retries", "ECONOMY_MAX_RETRIES")

	// Trust configuration
	_ = v.BindEnv("trust.hide_cost", "TRUST_HIDE_COST")
	_ = v.BindEnv("trust.hide_duration", "TRUST_HIDE_DURATION")

	// Mattermost configuration
	_ = v.BindEnv("notifications.mattermost.webhook_url", "MATTERMOST_WEBHOOK_URL")
	_ = v.BindEnv("notifications.mattermost.channel", "MATTERMOST_CHANNEL")
	_ = v.BindEnv("notifications.mattermost.enabled", "MATTERMOST_ENABLED")

	// Scheduler configuration
	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.timezone", "SCHEDULER_TIMEZONE")

	_ = v.BindEnv("rules.seed_path", "RULES_SEED_PATH")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 25)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 300)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.pool_size", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.path", "/metrics")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.recompute_queue", "@every 10s")
	v.SetDefault("scheduler.hide_expiry", "@every 5m")
	v.SetDefault("scheduler.reconcile", "0 3 * * *")
	v.SetDefault("scheduler.counter_prune", "30 3 * * *")
	v.SetDefault("scheduler.counter_retention_days", 30)

	v.SetDefault("economy.timezone", "UTC")
	v.SetDefault("economy.day_start_hour", 0)
	v.SetDefault("economy.lock_ttl", "10s")
	v.SetDefault("economy.lock_wait", "2s")
	v.SetDefault("economy.db_lock_timeout", "2s")
	v.SetDefault("economy.max_retries", 3)

	v.SetDefault("quota.role_defaults", map[string]int{"vendor": 5, "field_rep": 10})
	v.SetDefault("quota.unlimited_badges", []string{"trusted", "verified_pro"})

	v.SetDefault("trust.hide_cost", 10)
	v.SetDefault("trust.hide_duration", "720h")
	v.SetDefault("trust.workers", 4)
	v.SetDefault("trust.batch_size", 50)
	v.SetDefault("trust.max_job_attempts", 10)
	v.SetDefault("trust.job_retry_backoff", "30s")

	v.SetDefault("rules.seed_path", "rules.yaml")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if c.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if c.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if c.Database.Redis.Host == "" {
		return fmt.Errorf("database.redis.host is required")
	}
	if c.Economy.DayStartHour < 0 || c.Economy.DayStartHour > 23 {
		return fmt.Errorf("economy.day_start_hour must be between 0 and 23")
	}
	if _, err := time.LoadLocation(c.Economy.Timezone); err != nil {
		return fmt.Errorf("economy.timezone is invalid: %w", err)
	}
	if c.Economy.LockTTL <= 0 || c.Economy.LockWait <= 0 {
		return fmt.Errorf("economy.lock_ttl and economy.lock_wait must be positive")
	}
	if c.Economy.MaxRetries < 0 {
		return fmt.Errorf("economy.max_retries must not be negative")
	}
	for role, limit := range c.Quota.RoleDefaults {
		if limit < 0 {
			return fmt.Errorf("quota.role_defaults.%s must not be negative", role)
		}
	}
	if c.Trust.HideCost <= 0 {
		return fmt.Errorf("trust.hide_cost must be positive")
	}
	if c.Trust.HideDuration <= 0 {
		return fmt.Errorf("trust.hide_duration must be positive")
	}
	if c.Notifications.Mattermost.Enabled && c.Notifications.Mattermost.WebhookURL == "" {
		return fmt.Errorf("notifications.mattermost.webhook_url is required when enabled")
	}

	return nil
}
