package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Task queue worker pool
	Worker WorkerConfig

	// Channel (Telegram bot) gateway
	BotGateway BotGatewayConfig

	// Translation gateway
	Translation TranslationConfig

	// Gateway-level retry policy shared by both clients
	Retry RetryConfig

	// Periodic sweeps
	Schedule ScheduleConfig

	// Public site settings used to build absolute media URLs
	Site SiteConfig

	// Logging configuration
	Log LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MigrationsPath  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// WorkerConfig holds task processor settings
type WorkerConfig struct {
	// Concurrency of 0 sizes the pool from the CPU count.
	Concurrency    int
	PollInterval   time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// BotGatewayConfig holds the Telegram bot gateway client settings
type BotGatewayConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	EnableIdempotency bool
}

// TranslationConfig holds the translation gateway client settings
type TranslationConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	Context      string
	Tone         string
	BatchEnabled bool
	// MaxFailures stops the periodic sweep from re-requesting a variant
	// that keeps failing.
	MaxFailures int
}

// RetryConfig holds per-call retry settings for outbound gateway calls
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// ScheduleConfig holds cron expressions for periodic jobs.
// An empty expression disables the job.
type ScheduleConfig struct {
	PendingTranslations string
	VerifyPermissions   string
	RecoverTasks        string
	ScheduledPosts      string
}

// SiteConfig holds public site settings
type SiteConfig struct {
	URL string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string // "json" or "pretty"
}

// Load reads configuration from environment variables.
// Values from .env files are used only when the variable is not already set.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MigrationsPath:  getEnv("MIGRATIONS_PATH", "./migrations"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Name:         getEnv("DB_NAME", "multichannel_posting"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getDurationEnv("DB_MAX_LIFETIME", 5*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:    getIntEnv("WORKER_CONCURRENCY", 0),
			PollInterval:   getDurationEnv("WORKER_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:    getIntEnv("TASK_MAX_ATTEMPTS", 5),
			RetryBaseDelay: getDurationEnv("TASK_RETRY_BASE_DELAY", 10*time.Second),
			RetryMaxDelay:  getDurationEnv("TASK_RETRY_MAX_DELAY", 10*time.Minute),
		},
		BotGateway: BotGatewayConfig{
			BaseURL:           getEnv("TELEGRAM_BOT_SERVICE_URL", "http://localhost:8001"),
			Token:             getEnv("TELEGRAM_BOT_SERVICE_TOKEN", ""),
			Timeout:           getDurationEnv("TELEGRAM_BOT_GATEWAY_TIMEOUT", 30*time.Second),
			EnableIdempotency: getBoolEnv("TELEGRAM_BOT_ENABLE_IDEMPOTENCY", true),
		},
		Translation: TranslationConfig{
			BaseURL:      getEnv("TRANSLATION_SERVICE_URL", "http://localhost:8002"),
			Token:        getEnv("TRANSLATION_SERVICE_TOKEN", ""),
			Timeout:      getDurationEnv("TRANSLATION_TIMEOUT", 120*time.Second),
			Context:      getEnv("TRANSLATION_CONTEXT", "news channel"),
			Tone:         getEnv("TRANSLATION_TONE", "professional"),
			BatchEnabled: getBoolEnv("TRANSLATION_BATCH_ENABLED", true),
			MaxFailures:  getIntEnv("TRANSLATION_MAX_FAILURES", 3),
		},
		Retry: RetryConfig{
			MaxRetries: getIntEnv("GATEWAY_MAX_RETRIES", 3),
			BaseDelay:  getDurationEnv("GATEWAY_RETRY_BASE_DELAY", time.Second),
			MaxDelay:   getDurationEnv("GATEWAY_RETRY_MAX_DELAY", 30*time.Second),
		},
		Schedule: ScheduleConfig{
			PendingTranslations: getEnv("SCHEDULE_PENDING_TRANSLATIONS", "*/2 * * * *"),
			VerifyPermissions:   getEnv("SCHEDULE_VERIFY_PERMISSIONS", "0 * * * *"),
			RecoverTasks:        getEnv("SCHEDULE_RECOVER_TASKS", "*/5 * * * *"),
			ScheduledPosts:      getEnv("SCHEDULE_SCHEDULED_POSTS", "* * * * *"),
		},
		Site: SiteConfig{
			URL: getEnv("SITE_URL", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if err := validateURL("TELEGRAM_BOT_SERVICE_URL", c.BotGateway.BaseURL); err != nil {
		return err
	}
	if err := validateURL("TRANSLATION_SERVICE_URL", c.Translation.BaseURL); err != nil {
		return err
	}
	if c.Site.URL != "" {
		if err := validateURL("SITE_URL", c.Site.URL); err != nil {
			return err
		}
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("TASK_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must not be negative")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}

// loadDotEnv reads .env and .env.local when present. godotenv.Load never
// overrides variables that are already set in the process environment.
func loadDotEnv() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
