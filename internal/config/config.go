package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	WebSocket     WebSocketConfig     `mapstructure:"websocket"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Security      SecurityConfig      `mapstructure:"security"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string          `mapstructure:"path"`
	MigrationsPath string          `mapstructure:"migrations_path"`
	MaxConnections int             `mapstructure:"max_connections"`
	Migration      MigrationConfig `mapstructure:"migration"`
}

type MigrationConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig contains the cache backend configuration. When Enabled is
// false the engine falls back to the in-process cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// AlertingConfig controls the rule evaluation engine.
type AlertingConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	RulesFile           string `mapstructure:"rules_file"`
	DefaultInterval     string `mapstructure:"default_interval"`
	MinInterval         string `mapstructure:"min_interval"`
	EvaluationTimeout   string `mapstructure:"evaluation_timeout"`
	ActiveAlertTTL      string `mapstructure:"active_alert_ttl"`
	MaxConcurrentEvals  int    `mapstructure:"max_concurrent_evals"`
	ResolvedRetention   string `mapstructure:"resolved_retention"`
	SuppressionDefault  string `mapstructure:"suppression_default"`
	DependencyCacheTTL  string `mapstructure:"dependency_cache_ttl"`
	StateHistoryEnabled bool   `mapstructure:"state_history_enabled"`
}

// NotificationsConfig controls dispatch, retry and rate limiting behavior.
type NotificationsConfig struct {
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryBaseDelay    string `mapstructure:"retry_base_delay"`
	SendTimeout       string `mapstructure:"send_timeout"`
	PerMinuteLimit    int    `mapstructure:"per_minute_limit"`
	PerHourLimit      int    `mapstructure:"per_hour_limit"`
	QueueSize         int    `mapstructure:"queue_size"`
	WorkerCount       int    `mapstructure:"worker_count"`
	HistoryRetention  string `mapstructure:"history_retention"`
	WebhookTimeout    string `mapstructure:"webhook_timeout"`
	EmailFrom         string `mapstructure:"email_from"`
	EmailSMTPHost     string `mapstructure:"email_smtp_host"`
	EmailSMTPPort     int    `mapstructure:"email_smtp_port"`
	EmailSMTPUser     string `mapstructure:"email_smtp_user"`
	EmailSMTPPassword string `mapstructure:"email_smtp_password"`
}

// MonitoringConfig controls the orchestration cycles and self metrics.
type MonitoringConfig struct {
	Enabled            bool                       `mapstructure:"enabled"`
	MonitorInterval    string                     `mapstructure:"monitor_interval"`
	EscalationInterval string                     `mapstructure:"escalation_interval"`
	CleanupInterval    string                     `mapstructure:"cleanup_interval"`
	EscalationAfter    string                     `mapstructure:"escalation_after"`
	MaxEscalationLevel int                        `mapstructure:"max_escalation_level"`
	Prometheus         MonitoringPrometheusConfig `mapstructure:"prometheus"`
}

// MonitoringPrometheusConfig contains Prometheus configuration
type MonitoringPrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Read environment variables
	viper.AutomaticEnv()

	// Override specific values from env
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("alerting.rules_file", "ALERT_RULES_FILE")
	viper.BindEnv("notifications.email_smtp_host", "SMTP_HOST")
	viper.BindEnv("notifications.email_smtp_port", "SMTP_PORT")
	viper.BindEnv("notifications.email_smtp_user", "SMTP_USER")
	viper.BindEnv("notifications.email_smtp_password", "SMTP_PASSWORD")
	viper.BindEnv("security.allowed_origins", "ALLOWED_ORIGINS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration for completeness and correctness
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	if c.Database.Path == "" {
		errors = append(errors, "database.path is required")
	}

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			errors = append(errors, "redis.host is required when redis is enabled")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errors = append(errors, "redis.port must be between 1 and 65535")
		}
	}

	for _, field := range []struct{ name, value string }{
		{"alerting.default_interval", c.Alerting.DefaultInterval},
		{"alerting.min_interval", c.Alerting.MinInterval},
		{"alerting.evaluation_timeout", c.Alerting.EvaluationTimeout},
		{"notifications.retry_base_delay", c.Notifications.RetryBaseDelay},
		{"monitoring.monitor_interval", c.Monitoring.MonitorInterval},
		{"monitoring.escalation_interval", c.Monitoring.EscalationInterval},
		{"monitoring.cleanup_interval", c.Monitoring.CleanupInterval},
		{"monitoring.escalation_after", c.Monitoring.EscalationAfter},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			errors = append(errors, fmt.Sprintf("%s must be a valid duration: %v", field.name, err))
		}
	}

	if c.Notifications.MaxRetries < 0 {
		errors = append(errors, "notifications.max_retries must be non-negative")
	}
	if c.Notifications.PerMinuteLimit <= 0 {
		errors = append(errors, "notifications.per_minute_limit must be greater than 0")
	}
	if c.Notifications.PerHourLimit <= 0 {
		errors = append(errors, "notifications.per_hour_limit must be greater than 0")
	}
	if c.Notifications.WorkerCount <= 0 {
		errors = append(errors, "notifications.worker_count must be greater than 0")
	}

	if c.Monitoring.MaxEscalationLevel <= 0 {
		errors = append(errors, "monitoring.max_escalation_level must be greater than 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a duration field that Validate already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.path", "./data/alerting.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.migration.enabled", true)
	viper.SetDefault("database.migration.auto_migrate", true)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// WebSocket defaults
	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)

	// Alerting defaults
	viper.SetDefault("alerting.enabled", true)
	viper.SetDefault("alerting.rules_file", "./configs/rules.yaml")
	viper.SetDefault("alerting.default_interval", "30s")
	viper.SetDefault("alerting.min_interval", "5s")
	viper.SetDefault("alerting.evaluation_timeout", "10s")
	viper.SetDefault("alerting.active_alert_ttl", "24h")
	viper.SetDefault("alerting.max_concurrent_evals", 8)
	viper.SetDefault("alerting.resolved_retention", "168h")
	viper.SetDefault("alerting.suppression_default", "1h")
	viper.SetDefault("alerting.dependency_cache_ttl", "10s")
	viper.SetDefault("alerting.state_history_enabled", true)

	// Notification defaults
	viper.SetDefault("notifications.max_retries", 3)
	viper.SetDefault("notifications.retry_base_delay", "1s")
	viper.SetDefault("notifications.send_timeout", "10s")
	viper.SetDefault("notifications.per_minute_limit", 10)
	viper.SetDefault("notifications.per_hour_limit", 100)
	viper.SetDefault("notifications.queue_size", 256)
	viper.SetDefault("notifications.worker_count", 4)
	viper.SetDefault("notifications.history_retention", "720h")
	viper.SetDefault("notifications.webhook_timeout", "10s")
	viper.SetDefault("notifications.email_from", "alerts@localhost")
	viper.SetDefault("notifications.email_smtp_host", "localhost")
	viper.SetDefault("notifications.email_smtp_port", 587)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.monitor_interval", "30s")
	viper.SetDefault("monitoring.escalation_interval", "60s")
	viper.SetDefault("monitoring.cleanup_interval", "1h")
	viper.SetDefault("monitoring.escalation_after", "30m")
	viper.SetDefault("monitoring.max_escalation_level", 3)
	viper.SetDefault("monitoring.prometheus.enabled", true)
	viper.SetDefault("monitoring.prometheus.path", "/metrics")

	// Security defaults
	viper.SetDefault("security.enable_cors", true)
	viper.SetDefault("security.allowed_origins", []string{"*"})
}
