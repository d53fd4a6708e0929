// Package config provides configuration management for the caseflow service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the service.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Pipeline PipelineConfig
	Notify   NotifyConfig
	Grafana  GrafanaConfig
	CORS     CORSConfig
	Logging  LoggingConfig
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name        string
	HTTPPort    string
	MetricsPort string
	Environment string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration. Redis backs round-robin rotation
// counters and the realtime pub/sub transport; both degrade gracefully when
// it is not configured.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// KafkaConfig holds Kafka configuration for the case-event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// PipelineConfig holds ingestion and lifecycle tuning.
type PipelineConfig struct {
	DedupWindow       time.Duration
	SweepInterval     time.Duration
	AutoCloseResolved bool
	RuleSyncInterval  time.Duration
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	AdminChannel  string
	AdminEmail    string
	FromAddress   string
	TemplatesPath string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string

	ResendAPIKey string
}

// GrafanaConfig holds the monitoring-system rule source settings.
type GrafanaConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string // json, text
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:            getEnv("SERVICE_NAME", "caseflow"),
			HTTPPort:        getEnv("HTTP_PORT", "8086"),
			MetricsPort:     getEnv("METRICS_PORT", "9086"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "caseflow"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_CASE_EVENTS_TOPIC", "case.events"),
		},
		Pipeline: PipelineConfig{
			DedupWindow:       getEnvDuration("DEDUP_WINDOW", 5*time.Minute),
			SweepInterval:     getEnvDuration("SLA_SWEEP_INTERVAL", time.Minute),
			AutoCloseResolved: getEnvBool("AUTO_CLOSE_RESOLVED", false),
			RuleSyncInterval:  getEnvDuration("RULE_SYNC_INTERVAL", 0),
		},
		Notify: NotifyConfig{
			AdminChannel:  getEnv("NOTIFY_ADMIN_CHANNEL", "case-admin"),
			AdminEmail:    getEnv("NOTIFY_ADMIN_EMAIL", ""),
			FromAddress:   getEnv("NOTIFY_FROM_ADDRESS", "caseflow@localhost"),
			TemplatesPath: getEnv("NOTIFY_TEMPLATES_PATH", ""),
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getEnv("SMTP_PORT", "587"),
			SMTPUser:      getEnv("SMTP_USER", ""),
			SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
			ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
		},
		Grafana: GrafanaConfig{
			BaseURL: getEnv("GRAFANA_URL", ""),
			APIKey:  getEnv("GRAFANA_API_KEY", ""),
			Timeout: getEnvDuration("GRAFANA_TIMEOUT", 10*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-User-ID"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getEnvInt("CORS_MAX_AGE", 86400),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Redis.Enabled = cfg.Redis.Addr != ""
	cfg.Kafka.Enabled = len(cfg.Kafka.Brokers) > 0

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.HTTPPort == "" {
		return fmt.Errorf("HTTP port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Pipeline.DedupWindow <= 0 {
		return fmt.Errorf("dedup window must be positive")
	}
	if c.Pipeline.SweepInterval <= 0 {
		return fmt.Errorf("SLA sweep interval must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions for environment variable loading.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return b
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return i
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return d
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
