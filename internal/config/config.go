package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	BaseURL  string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3000"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DBSource    string `env:"DB_SOURCE"`
	RedisURL    string `env:"REDIS_URL"`

	WebhookSecret string   `env:"WEBHOOK_SECRET,required,notEmpty"`
	JWTSecret     string   `env:"JWT_SECRET,required,notEmpty"`
	CORSOrigins   []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"payla.payments"`

	Paystack Paystack
	Payout   Payout
	Reminder Reminder
	SMTP     SMTP
	Termii   Termii
	WhatsApp WhatsApp

	FirebaseCredentials  string        `env:"FIREBASE_CREDENTIALS"`
	BillingNudgeInterval time.Duration `env:"BILLING_NUDGE_INTERVAL" envDefault:"1h"`
	TokenTTL             time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
}

type Paystack struct {
	SecretKey string `env:"PAYSTACK_SECRET_KEY"`
	BaseURL   string `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
}

type Payout struct {
	MinAmount   int64         `env:"PAYOUT_MIN_AMOUNT" envDefault:"1000"`
	MaxRetries  int           `env:"PAYOUT_MAX_RETRIES" envDefault:"3"`
	BackoffBase time.Duration `env:"PAYOUT_BACKOFF_BASE" envDefault:"30s"`
	BackoffMax  time.Duration `env:"PAYOUT_BACKOFF_MAX" envDefault:"10m"`
	RatePerSec  float64       `env:"PAYOUT_RATE_PER_SEC" envDefault:"50"`
	LockTTL     time.Duration `env:"PAYOUT_LOCK_TTL" envDefault:"15m"`
}

type Reminder struct {
	PollInterval    time.Duration `env:"REMINDER_POLL_INTERVAL" envDefault:"60s"`
	BatchSize       int           `env:"REMINDER_BATCH_SIZE" envDefault:"100"`
	LockTTL         time.Duration `env:"REMINDER_LOCK_TTL" envDefault:"10m"`
	ArchiveAfter    time.Duration `env:"REMINDER_ARCHIVE_AFTER" envDefault:"2160h"`
	QuietHoursStart int           `env:"QUIET_HOURS_START" envDefault:"22"`
	QuietHoursEnd   int           `env:"QUIET_HOURS_END" envDefault:"7"`
	QuietHoursTZ    string        `env:"QUIET_HOURS_TZ" envDefault:"Africa/Lagos"`
}

type SMTP struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" envDefault:"Payla <no-reply@payla.ng>"`
}

type Termii struct {
	APIKey   string `env:"TERMII_API_KEY"`
	SenderID string `env:"TERMII_SENDER_ID" envDefault:"Payla"`
	BaseURL  string `env:"TERMII_BASE_URL" envDefault:"https://api.ng.termii.com"`
}

type WhatsApp struct {
	Token         string `env:"WHATSAPP_TOKEN"`
	PhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	BaseURL       string `env:"WHATSAPP_BASE_URL" envDefault:"https://graph.facebook.com/v19.0"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Reminder.QuietHoursStart < 0 || c.Reminder.QuietHoursStart > 23 || c.Reminder.QuietHoursEnd < 0 || c.Reminder.QuietHoursEnd > 23 {
		return fmt.Errorf("quiet hours must be between 0 and 23")
	}
	if c.Payout.MaxRetries < 0 || c.Payout.RatePerSec <= 0 {
		return fmt.Errorf("invalid payout worker settings")
	}
	return nil
}

// Production reports whether logs should be JSON.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}
