package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"

	"hexbattle-server/utils"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"3000"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	ServiceToken   string   `env:"GAME_SERVICE_TOKEN"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"15s"`
	StaleAfter     time.Duration `env:"STALE_AFTER" envDefault:"30m"`
	// TicketTTL of zero keeps unmatched tickets waiting until they disconnect.
	TicketTTL        time.Duration `env:"TICKET_TTL" envDefault:"0s"`
	FallbackScenario string        `env:"FALLBACK_SCENARIO" envDefault:"1"`

	PersistWorkers   int           `env:"PERSIST_WORKERS" envDefault:"4"`
	PersistQueueSize int           `env:"PERSIST_QUEUE_SIZE" envDefault:"256"`
	PersistTimeout   time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`
	StreamBuffer     int           `env:"STREAM_BUFFER" envDefault:"64"`

	CloudflareAccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID       string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret   string `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket            string `env:"R2_BUCKET_NAME"`
	R2Prefix            string `env:"R2_PREFIX"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("⚠️  could not read .env: %v", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("REAPER_INTERVAL must be positive"))
	}
	if c.StaleAfter <= 0 {
		errs = append(errs, errors.New("STALE_AFTER must be positive"))
	}
	if c.TicketTTL < 0 {
		errs = append(errs, errors.New("TICKET_TTL must not be negative"))
	}
	if c.PersistWorkers < 1 {
		errs = append(errs, errors.New("PERSIST_WORKERS must be at least 1"))
	}
	if c.PersistQueueSize < 1 {
		errs = append(errs, errors.New("PERSIST_QUEUE_SIZE must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c Config) R2() utils.R2Settings {
	return utils.R2Settings{
		AccountID:       c.CloudflareAccountID,
		AccessKeyID:     c.R2AccessKeyID,
		AccessKeySecret: c.R2AccessKeySecret,
		Bucket:          c.R2Bucket,
		Prefix:          c.R2Prefix,
	}
}

// FiberLogLevel maps LOG_LEVEL onto fiber's logger levels.
func (c Config) FiberLogLevel() log.Level {
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
