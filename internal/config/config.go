package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
	SubmitTimeout    time.Duration `mapstructure:"SUBMIT_TIMEOUT"`
	NoticeTTL        time.Duration `mapstructure:"NOTICE_TTL"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	WalletSigningKey string        `mapstructure:"WALLET_SIGNING_KEY"`
	WalletIssuer     string        `mapstructure:"WALLET_ISSUER"`
	KafkaBrokers     []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic       string        `mapstructure:"KAFKA_TOPIC"`
	WebhookURL       string        `mapstructure:"WEBHOOK_URL"`
	WebhookSecret    string        `mapstructure:"WEBHOOK_SECRET"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	MaxUploadBytes   int64         `mapstructure:"MAX_UPLOAD_BYTES"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"SESSION_TTL", "SUBMIT_TIMEOUT", "NOTICE_TTL", "AUTH_SIGNING_KEY",
	"WALLET_SIGNING_KEY", "WALLET_ISSUER", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"WEBHOOK_URL", "WEBHOOK_SECRET", "MIGRATIONS_DIR", "MAX_UPLOAD_BYTES",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("SUBMIT_TIMEOUT", "15s")
	v.SetDefault("NOTICE_TTL", "8s")
	v.SetDefault("WALLET_ISSUER", "wallet-bridge")
	v.SetDefault("KAFKA_TOPIC", "registrations")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode: operator auth is bypassed and storage defaults to memory")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether registrations are stored in PostgreSQL rather
// than in memory.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// both signing keys are required, and production additionally needs a
// database.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if c.WalletSigningKey == "" {
			return fmt.Errorf("WALLET_SIGNING_KEY is required when ENV=%q", c.Env)
		}
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT must be positive, got %s", c.SubmitTimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
