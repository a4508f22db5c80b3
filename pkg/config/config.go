package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tierbill/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	S3            S3Config
	Billing       BillingConfig
	Scheduler     SchedulerConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis settings. An empty URL disables every Redis-backed
// component; each has a Postgres fallback.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// S3Config holds object storage settings. An empty bucket disables export
// sizing from S3 and reconciliation archiving.
type S3Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	ExportPrefix  string
	ArchivePrefix string
}

// Enabled reports whether S3 is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// BillingConfig holds the billing engine's tunables.
type BillingConfig struct {
	CatalogPath         string
	Timezone            string
	InvoiceDueDays      int
	SuspensionGraceDays int
	BatchParallelism    int
	BatchItemTimeout    time.Duration
	SnapshotCacheSize   int
	SnapshotCacheTTL    time.Duration
	AlertNotifyPerSec   float64
	AlertNotifyBurst    int
}

// Location resolves Timezone. Validate guarantees it loads.
func (b BillingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SchedulerConfig holds the cron expressions for the scheduled jobs.
type SchedulerConfig struct {
	SnapshotSchedule      string
	InvoicingSchedule     string
	AlertsSchedule        string
	SuspendSchedule       string
	ExpireCouponsSchedule string
}

// NotifyConfig holds the outbound notification hook. With neither URL set,
// alerts are only recorded as events.
type NotifyConfig struct {
	WebhookURL string
	Secret     string
	SlackURL   string
	Timeout    time.Duration
	MaxRetries int
}

// Enabled reports whether any notification target is configured.
func (n NotifyConfig) Enabled() bool { return n.WebhookURL != "" || n.SlackURL != "" }

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	LogLevelName   string
	LogFormat      string
	LogFile        string
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		S3:            loadS3Config(),
		Billing:       loadBillingConfig(),
		Scheduler:     loadSchedulerConfig(),
		Notify:        loadNotifyConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BILLING_HOST", "0.0.0.0"),
		Port:            getEnv("BILLING_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BILLING_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BILLING_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("BILLING_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BILLING_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("BILLING_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("BILLING_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("BILLING_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("BILLING_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("BILLING_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("BILLING_REDIS_URL", ""),
		PoolSize:     getEnvInt("BILLING_REDIS_POOL_SIZE", 10),
		DialTimeout:  getEnvDuration("BILLING_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("BILLING_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("BILLING_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func loadS3Config() S3Config {
	return S3Config{
		Endpoint:      getEnv("BILLING_S3_ENDPOINT", ""),
		Region:        getEnv("BILLING_S3_REGION", "ap-southeast-2"),
		Bucket:        getEnv("BILLING_S3_BUCKET", ""),
		AccessKey:     getEnv("BILLING_S3_ACCESS_KEY", ""),
		SecretKey:     getEnv("BILLING_S3_SECRET_KEY", ""),
		UsePathStyle:  getEnvBool("BILLING_S3_USE_PATH_STYLE", false),
		ExportPrefix:  getEnv("BILLING_S3_EXPORT_PREFIX", "exports"),
		ArchivePrefix: getEnv("BILLING_S3_ARCHIVE_PREFIX", "reconciliation"),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		CatalogPath:         getEnv("BILLING_CATALOG_PATH", ""),
		Timezone:            getEnv("BILLING_TIMEZONE", "Australia/Sydney"),
		InvoiceDueDays:      getEnvInt("BILLING_INVOICE_DUE_DAYS", 5),
		SuspensionGraceDays: getEnvInt("BILLING_SUSPENSION_GRACE_DAYS", 7),
		BatchParallelism:    getEnvInt("BILLING_BATCH_PARALLELISM", 4),
		BatchItemTimeout:    getEnvDuration("BILLING_BATCH_ITEM_TIMEOUT", 30*time.Second),
		SnapshotCacheSize:   getEnvInt("BILLING_SNAPSHOT_CACHE_SIZE", 1024),
		SnapshotCacheTTL:    getEnvDuration("BILLING_SNAPSHOT_CACHE_TTL", 5*time.Minute),
		AlertNotifyPerSec:   getEnvFloat("BILLING_ALERT_NOTIFY_PER_SEC", 5),
		AlertNotifyBurst:    getEnvInt("BILLING_ALERT_NOTIFY_BURST", 10),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SnapshotSchedule:      getEnv("BILLING_SCHEDULE_SNAPSHOT", "0 23 * * *"),
		InvoicingSchedule:     getEnv("BILLING_SCHEDULE_INVOICING", "0 2 1 * *"),
		AlertsSchedule:        getEnv("BILLING_SCHEDULE_ALERTS", "0 9 * * *"),
		SuspendSchedule:       getEnv("BILLING_SCHEDULE_SUSPEND", "0 10 * * *"),
		ExpireCouponsSchedule: getEnv("BILLING_SCHEDULE_EXPIRE_COUPONS", "0 3 * * *"),
	}
}

func loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		WebhookURL: getEnv("BILLING_NOTIFY_WEBHOOK_URL", ""),
		Secret:     getEnv("BILLING_NOTIFY_SECRET", ""),
		SlackURL:   getEnv("BILLING_NOTIFY_SLACK_URL", ""),
		Timeout:    getEnvDuration("BILLING_NOTIFY_TIMEOUT", 10*time.Second),
		MaxRetries: getEnvInt("BILLING_NOTIFY_MAX_RETRIES", 3),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	level := getEnv("BILLING_LOG_LEVEL", "info")
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(level),
		LogLevelName:       level,
		LogFormat:          getEnv("BILLING_LOG_FORMAT", "text"),
		LogFile:            getEnv("BILLING_LOG_FILE", ""),
		MetricsEnabled:     getEnvBool("BILLING_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BILLING_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BILLING_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BILLING_OTEL_SERVICE_NAME", "tierbill"),
		OTelServiceVersion: getEnv("BILLING_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BILLING_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (BILLING_DATABASE_URL)")
	}
	if _, err := time.LoadLocation(c.Billing.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Billing.Timezone, err)
	}
	if c.Billing.InvoiceDueDays < 0 {
		return fmt.Errorf("invoice due days must not be negative")
	}
	if c.Billing.SuspensionGraceDays < 1 {
		return fmt.Errorf("suspension grace days must be at least 1")
	}
	if c.Billing.BatchParallelism < 1 {
		return fmt.Errorf("batch parallelism must be at least 1")
	}

	schedules := map[string]string{
		"snapshot":       c.Scheduler.SnapshotSchedule,
		"invoicing":      c.Scheduler.InvoicingSchedule,
		"alerts":         c.Scheduler.AlertsSchedule,
		"suspend":        c.Scheduler.SuspendSchedule,
		"expire-coupons": c.Scheduler.ExpireCouponsSchedule,
	}
	for job, spec := range schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid schedule for %s: %w", job, err)
		}
	}

	if c.S3.Enabled() && c.S3.Region == "" {
		return fmt.Errorf("S3 region is required when a bucket is configured")
	}

	if c.Notify.WebhookURL != "" && c.Notify.Secret == "" {
		return fmt.Errorf("notification secret is required when a webhook URL is configured")
	}
	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("notification max retries must not be negative")
	}

	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
