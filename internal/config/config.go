package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// PHIEncryptionKey encrypts identity personal-fact blobs (hex, 32 bytes).
	PHIEncryptionKey string `mapstructure:"PHI_ENCRYPTION_KEY"`
	// ChallengeSigningKey signs identity challenge tokens.
	ChallengeSigningKey string `mapstructure:"CHALLENGE_SIGNING_KEY"`

	// SyncFailureThreshold is the number of consecutive failed runs after
	// which a connection escalates to error status.
	SyncFailureThreshold int           `mapstructure:"SYNC_FAILURE_THRESHOLD"`
	SchedulerInterval    time.Duration `mapstructure:"SCHEDULER_INTERVAL"`

	AdapterTimeout      time.Duration `mapstructure:"ADAPTER_TIMEOUT"`
	AdapterMaxRetries   int           `mapstructure:"ADAPTER_MAX_RETRIES"`
	AdapterRateLimitRPS float64       `mapstructure:"ADAPTER_RATE_LIMIT_RPS"`

	WebhookDefaultTimeout  time.Duration `mapstructure:"WEBHOOK_DEFAULT_TIMEOUT"`
	WebhookDefaultAttempts int           `mapstructure:"WEBHOOK_DEFAULT_ATTEMPTS"`

	BulkExportMaxWait      time.Duration `mapstructure:"BULK_EXPORT_MAX_WAIT"`
	BulkExportPollInterval time.Duration `mapstructure:"BULK_EXPORT_POLL_INTERVAL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8100")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SYNC_FAILURE_THRESHOLD", 3)
	v.SetDefault("SCHEDULER_INTERVAL", "1m")
	v.SetDefault("ADAPTER_TIMEOUT", "30s")
	v.SetDefault("ADAPTER_MAX_RETRIES", 3)
	v.SetDefault("ADAPTER_RATE_LIMIT_RPS", 10)
	v.SetDefault("WEBHOOK_DEFAULT_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_DEFAULT_ATTEMPTS", 5)
	v.SetDefault("BULK_EXPORT_MAX_WAIT", "30m")
	v.SetDefault("BULK_EXPORT_POLL_INTERVAL", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("CHALLENGE_SIGNING_KEY")
	v.BindEnv("SYNC_FAILURE_THRESHOLD")
	v.BindEnv("SCHEDULER_INTERVAL")
	v.BindEnv("ADAPTER_TIMEOUT")
	v.BindEnv("ADAPTER_MAX_RETRIES")
	v.BindEnv("ADAPTER_RATE_LIMIT_RPS")
	v.BindEnv("WEBHOOK_DEFAULT_TIMEOUT")
	v.BindEnv("WEBHOOK_DEFAULT_ATTEMPTS")
	v.BindEnv("BULK_EXPORT_MAX_WAIT")
	v.BindEnv("BULK_EXPORT_POLL_INTERVAL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// PHI encryption key is required and must decode to exactly 32 bytes, and
// challenge tokens must have a signing key.
func (c *Config) Validate() error {
	if c.IsProduction() && c.PHIEncryptionKey == "" {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if c.IsProduction() && c.ChallengeSigningKey == "" {
		return fmt.Errorf("CHALLENGE_SIGNING_KEY is required in production")
	}

	if c.SyncFailureThreshold < 1 {
		return fmt.Errorf("SYNC_FAILURE_THRESHOLD must be at least 1, got %d", c.SyncFailureThreshold)
	}
	if c.WebhookDefaultAttempts < 1 {
		return fmt.Errorf("WEBHOOK_DEFAULT_ATTEMPTS must be at least 1, got %d", c.WebhookDefaultAttempts)
	}
	if c.BulkExportPollInterval <= 0 || c.BulkExportMaxWait <= 0 {
		return fmt.Errorf("bulk export poll interval and max wait must be positive")
	}
	if c.BulkExportPollInterval >= c.BulkExportMaxWait {
		return fmt.Errorf("BULK_EXPORT_POLL_INTERVAL (%s) must be shorter than BULK_EXPORT_MAX_WAIT (%s)",
			c.BulkExportPollInterval, c.BulkExportMaxWait)
	}

	return nil
}
