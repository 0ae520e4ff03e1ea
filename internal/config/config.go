// Package config loads settings from the environment, optionally seeded
// from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	// PublicURL is the full webhook URL Twilio posts to, needed to check signatures
	PublicURL string `env:"PUBLIC_URL"`

	TwilioAccountSID  string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `env:"TWILIO_AUTH_TOKEN"`
	ValidateSignature bool   `env:"TWILIO_VALIDATE_SIGNATURE" envDefault:"true"`

	AllowedSenders []string `env:"ALLOWED_SENDERS" envSeparator:","`

	DBPath string `env:"DB_PATH" envDefault:"./data/textline.db"`
	// SessionBackend is "memory" or "sqlite". Calorie totals are always in SQLite.
	SessionBackend string `env:"SESSION_BACKEND" envDefault:"memory"`
	Timezone       string `env:"TIMEZONE" envDefault:"America/New_York"`
	CalorieTarget  int    `env:"CALORIE_TARGET" envDefault:"2000"`

	AIProvider     string `env:"AI_PROVIDER" envDefault:"openai"`
	OpenAIKey      string `env:"OPENAI_API_KEY"`
	OpenAIModel    string `env:"OPENAI_MODEL"`
	AnthropicKey   string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel string `env:"ANTHROPIC_MODEL"`

	MTAKey     string `env:"MTA_API_KEY"`
	MTABaseURL string `env:"MTA_BASE_URL"`

	RideAgentURL   string        `env:"RIDE_AGENT_URL"`
	RideAgentToken string        `env:"RIDE_AGENT_TOKEN"`
	RideTimeout    time.Duration `env:"RIDE_TIMEOUT" envDefault:"90s"`
	PriceTolerance float64       `env:"PRICE_TOLERANCE" envDefault:"2.00"`

	// TelegramToken turns on the Telegram channel when set
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`

	CleanupCron string `env:"CLEANUP_CRON" envDefault:"*/10 * * * *"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env if present, then the process environment, and validates
// the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or the process environment when
// environ is nil.
func Parse(environ map[string]string) (Config, error) {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if c.CalorieTarget <= 0 {
		errs = append(errs, errors.New("CALORIE_TARGET must be positive"))
	}
	if c.PriceTolerance < 0 {
		errs = append(errs, errors.New("PRICE_TOLERANCE must not be negative"))
	}
	if !gronx.New().IsValid(c.CleanupCron) {
		errs = append(errs, fmt.Errorf("CLEANUP_CRON: invalid expression %q", c.CleanupCron))
	}

	if c.SessionBackend != "memory" && c.SessionBackend != "sqlite" {
		errs = append(errs, fmt.Errorf("SESSION_BACKEND: unknown backend %q", c.SessionBackend))
	}

	switch c.AIProvider {
	case "openai":
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when AI_PROVIDER=openai"))
		}
	case "anthropic":
		if c.AnthropicKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required when AI_PROVIDER=anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER: unknown provider %q", c.AIProvider))
	}

	if c.ValidateSignature && c.TwilioAuthToken != "" && c.PublicURL == "" {
		errs = append(errs, errors.New("PUBLIC_URL is required to validate Twilio signatures"))
	}

	return errors.Join(errs...)
}

// Location is the time zone calorie days are counted in
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
