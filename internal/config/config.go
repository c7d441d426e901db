/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int    `mapstructure:"DB_MAX_CONNS"`
	LockTimeoutMS int    `mapstructure:"LOCK_TIMEOUT_MS"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix             string `mapstructure:"REDIS_KEY_PREFIX"`
	TransferCacheTTLMinutes    int    `mapstructure:"TRANSFER_CACHE_TTL_MINUTES"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPTLS      string `mapstructure:"SMTP_TLS"`

	MailFrom              string `mapstructure:"MAIL_FROM"`
	MailFromName          string `mapstructure:"MAIL_FROM_NAME"`
	MailSupportEmail      string `mapstructure:"MAIL_SUPPORT_EMAIL"`
	MailCompanyName       string `mapstructure:"MAIL_COMPANY_NAME"`
	MailOverrideRecipient string `mapstructure:"MAIL_OVERRIDE_RECIPIENT"`
	MailMaxAttempts       int    `mapstructure:"MAIL_MAX_ATTEMPTS"`
	MailBaseDelayMS       int    `mapstructure:"MAIL_BASE_DELAY_MS"`
	MailMaxDelayMS        int    `mapstructure:"MAIL_MAX_DELAY_MS"`

	NotificationWorkers        int    `mapstructure:"NOTIFICATION_WORKERS"`
	NotificationQueueSize      int    `mapstructure:"NOTIFICATION_QUEUE_SIZE"`
	NotificationTimeoutSeconds int    `mapstructure:"NOTIFICATION_TIMEOUT_SECONDS"`
	NotificationSweepSchedule  string `mapstructure:"NOTIFICATION_SWEEP_SCHEDULE"`
	NotificationSweepBatch     int    `mapstructure:"NOTIFICATION_SWEEP_BATCH"`
	NotificationSweepMinAgeSec int    `mapstructure:"NOTIFICATION_SWEEP_MIN_AGE_SECONDS"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]interface{}{
	"SERVER_PORT":                        "8080",
	"DB_MAX_CONNS":                       20,
	"LOCK_TIMEOUT_MS":                    5000,
	"REDIS_KEY_PREFIX":                   "transfer-service",
	"TRANSFER_CACHE_TTL_MINUTES":         60,
	"TRANSFER_RATE_LIMIT_PER_MINUTE":     0,
	"EVENTS_EXCHANGE":                    "transfer_events",
	"SMTP_PORT":                          587,
	"SMTP_TLS":                           "opportunistic",
	"MAIL_FROM":                          "no-reply@digitalbank.local",
	"MAIL_FROM_NAME":                     "Digital Bank",
	"MAIL_SUPPORT_EMAIL":                 "support@digitalbank.local",
	"MAIL_COMPANY_NAME":                  "Digital Bank",
	"MAIL_MAX_ATTEMPTS":                  3,
	"MAIL_BASE_DELAY_MS":                 5000,
	"MAIL_MAX_DELAY_MS":                  60000,
	"NOTIFICATION_WORKERS":               4,
	"NOTIFICATION_QUEUE_SIZE":            256,
	"NOTIFICATION_TIMEOUT_SECONDS":       120,
	"NOTIFICATION_SWEEP_SCHEDULE":        "*/5 * * * *",
	"NOTIFICATION_SWEEP_BATCH":           50,
	"NOTIFICATION_SWEEP_MIN_AGE_SECONDS": 300,
	"CORS_ALLOWED_ORIGINS":               "*",
	"LOG_LEVEL":                          "info",
	"LOG_FORMAT":                         "text",
}

var boundKeys = []string{
	"SERVER_PORT", "DATABASE_URL", "DB_MAX_CONNS", "LOCK_TIMEOUT_MS",
	"REDIS_URL", "REDIS_KEY_PREFIX", "TRANSFER_CACHE_TTL_MINUTES", "TRANSFER_RATE_LIMIT_PER_MINUTE",
	"RABBITMQ_URL", "EVENTS_EXCHANGE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_TLS",
	"MAIL_FROM", "MAIL_FROM_NAME", "MAIL_SUPPORT_EMAIL", "MAIL_COMPANY_NAME", "MAIL_OVERRIDE_RECIPIENT",
	"MAIL_MAX_ATTEMPTS", "MAIL_BASE_DELAY_MS", "MAIL_MAX_DELAY_MS",
	"NOTIFICATION_WORKERS", "NOTIFICATION_QUEUE_SIZE", "NOTIFICATION_TIMEOUT_SECONDS",
	"NOTIFICATION_SWEEP_SCHEDULE", "NOTIFICATION_SWEEP_BATCH", "NOTIFICATION_SWEEP_MIN_AGE_SECONDS",
	"JWT_SECRET", "CORS_ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.SMTPHost = strings.TrimSpace(config.SMTPHost)
	config.MailOverrideRecipient = strings.TrimSpace(config.MailOverrideRecipient)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "transfer-service"
	}

	coercePositive(&config.DBMaxConns, "DB_MAX_CONNS")
	coercePositive(&config.LockTimeoutMS, "LOCK_TIMEOUT_MS")
	coercePositive(&config.TransferCacheTTLMinutes, "TRANSFER_CACHE_TTL_MINUTES")
	coerceNonNegative(&config.TransferRateLimitPerMinute, "TRANSFER_RATE_LIMIT_PER_MINUTE")
	coercePositive(&config.SMTPPort, "SMTP_PORT")
	coercePositive(&config.MailMaxAttempts, "MAIL_MAX_ATTEMPTS")
	coercePositive(&config.MailBaseDelayMS, "MAIL_BASE_DELAY_MS")
	coercePositive(&config.MailMaxDelayMS, "MAIL_MAX_DELAY_MS")
	coercePositive(&config.NotificationWorkers, "NOTIFICATION_WORKERS")
	coercePositive(&config.NotificationQueueSize, "NOTIFICATION_QUEUE_SIZE")
	coercePositive(&config.NotificationTimeoutSeconds, "NOTIFICATION_TIMEOUT_SECONDS")
	coercePositive(&config.NotificationSweepBatch, "NOTIFICATION_SWEEP_BATCH")
	coerceNonNegative(&config.NotificationSweepMinAgeSec, "NOTIFICATION_SWEEP_MIN_AGE_SECONDS")

	if config.MailMaxDelayMS < config.MailBaseDelayMS {
		slog.Warn("MAIL_MAX_DELAY_MS below MAIL_BASE_DELAY_MS; raising to base delay", "component", "config",
			"max_delay_ms", config.MailMaxDelayMS, "base_delay_ms", config.MailBaseDelayMS)
		config.MailMaxDelayMS = config.MailBaseDelayMS
	}

	switch strings.ToLower(strings.TrimSpace(config.SMTPTLS)) {
	case "mandatory", "opportunistic", "none", "ssl":
		config.SMTPTLS = strings.ToLower(strings.TrimSpace(config.SMTPTLS))
	default:
		slog.Warn("unknown SMTP_TLS; using opportunistic", "component", "config", "value", config.SMTPTLS)
		config.SMTPTLS = "opportunistic"
	}

	return
}

func coercePositive(value *int, key string) {
	if *value > 0 {
		return
	}
	fallback := defaults[key].(int)
	slog.Warn("invalid value configured; using default", "component", "config", "key", key, "value", *value, "default", fallback)
	*value = fallback
}

func coerceNonNegative(value *int, key string) {
	if *value >= 0 {
		return
	}
	fallback := defaults[key].(int)
	slog.Warn("negative value configured; using default", "component", "config", "key", key, "value", *value, "default", fallback)
	*value = fallback
}

// LockTimeout is the maximum wait for an account row lock. Zero means wait for the request context.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) TransferCacheTTL() time.Duration {
	return time.Duration(c.TransferCacheTTLMinutes) * time.Minute
}

func (c Config) MailBaseDelay() time.Duration {
	return time.Duration(c.MailBaseDelayMS) * time.Millisecond
}

func (c Config) MailMaxDelay() time.Duration {
	return time.Duration(c.MailMaxDelayMS) * time.Millisecond
}

func (c Config) NotificationTimeout() time.Duration {
	return time.Duration(c.NotificationTimeoutSeconds) * time.Second
}

func (c Config) NotificationSweepMinAge() time.Duration {
	return time.Duration(c.NotificationSweepMinAgeSec) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
