// Package config loads the service configuration from environment variables.
// envconfig maps the variables onto the struct fields.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds ALL application settings.
type Config struct {
	// --- HTTP ---
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	// Base URL used to build emailed action links, e.g. https://trafikskola.se
	PublicBaseURL      string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:3000"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// --- Database ---
	// STORE_BACKEND=memory runs without Postgres (local demo only, nothing persists).
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DBHost       string `envconfig:"DB_HOST" default:"postgres"`
	DBPort       int    `envconfig:"DB_PORT" default:"5432"`
	DBUser       string `envconfig:"DB_USER" default:"trafikskola"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME" default:"trafikskola"`
	DBSSLMode    string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns   int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns   int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"info"`

	// --- Action tokens ---
	ActionTokenSecret string `envconfig:"ACTION_TOKEN_SECRET" required:"true"`
	// 0 = links never expire
	ActionTokenTTL       time.Duration `envconfig:"ACTION_TOKEN_TTL" default:"0"`
	ActionTokenSingleUse bool          `envconfig:"ACTION_TOKEN_SINGLE_USE" default:"false"`
	// How long a used token id is remembered when single-use is on
	ActionTokenReplayWindow time.Duration `envconfig:"ACTION_TOKEN_REPLAY_WINDOW" default:"720h"`

	// --- Admin / webhooks ---
	AdminKeyHash  string `envconfig:"ADMIN_KEY_HASH" required:"true"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// --- Redis (single-use tokens) ---
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Notifications ---
	// Comma separated, no spaces. Empty = notifications are only logged
	KafkaBrokers           []string      `envconfig:"KAFKA_BROKERS"`
	KafkaNotificationTopic string        `envconfig:"KAFKA_NOTIFICATION_TOPIC" default:"notifications.email"`
	TelegramBotToken       string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramOperatorChatID int64         `envconfig:"TELEGRAM_OPERATOR_CHAT_ID"`
	NotifyMaxAttempts      int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"3"`
	NotifyRetryDelay       time.Duration `envconfig:"NOTIFY_RETRY_DELAY" default:"200ms"`
	NotifyTimeout          time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	NotifyConcurrency      int           `envconfig:"NOTIFY_CONCURRENCY" default:"8"`
	OperatorEmail          string        `envconfig:"OPERATOR_EMAIL" default:"info@trafikskola.se"`

	// --- Invoices ---
	InvoiceDueDays int `envconfig:"INVOICE_DUE_DAYS" default:"30"`

	// --- Jobs ---
	JobsEnabled bool `envconfig:"JOBS_ENABLED" default:"true"`
	// A pending package purchase older than this gets an hourly reminder
	ReminderAfter time.Duration `envconfig:"REMINDER_AFTER" default:"48h"`

	// --- Rate Limiting (public action links) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// UseMemoryStore reports whether the in-memory backend was requested.
func (c *Config) UseMemoryStore() bool {
	return c.StoreBackend == "memory"
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ActionTokenSecret) == "" {
		return fmt.Errorf("ACTION_TOKEN_SECRET is empty")
	}
	if c.StoreBackend != "postgres" && c.StoreBackend != "memory" {
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.ActionTokenTTL < 0 {
		return fmt.Errorf("ACTION_TOKEN_TTL must be >= 0")
	}
	if c.ActionTokenSingleUse && c.RedisAddr == "" {
		return fmt.Errorf("ACTION_TOKEN_SINGLE_USE requires REDIS_ADDR")
	}
	if c.NotifyMaxAttempts <= 0 || c.NotifyConcurrency <= 0 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS and NOTIFY_CONCURRENCY must be > 0")
	}
	if c.InvoiceDueDays <= 0 {
		return fmt.Errorf("INVOICE_DUE_DAYS must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.TelegramBotToken != "" && c.TelegramOperatorChatID == 0 {
		return fmt.Errorf("TELEGRAM_OPERATOR_CHAT_ID is required with TELEGRAM_BOT_TOKEN")
	}
	return nil
}

// Load reads the environment and fills Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
