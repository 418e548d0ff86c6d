package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ProviderCredentials holds the OAuth client registration for one provider.
// A provider whose credentials are absent is treated as not configured; its
// connect and callback paths respond accordingly instead of failing.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	// EncryptionKey protects OAuth tokens and device identifiers at rest.
	// 64 hex chars (32 bytes, AES-256).
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`

	// Sync engine tuning.
	DefaultLookbackDays  int `mapstructure:"DEFAULT_LOOKBACK_DAYS"`
	SyncIntervalMinutes  int `mapstructure:"SYNC_INTERVAL_MINUTES"`
	MinSyncFrequencyHrs  int `mapstructure:"MIN_SYNC_FREQUENCY_HOURS"`
	MaxSyncFrequencyHrs  int `mapstructure:"MAX_SYNC_FREQUENCY_HOURS"`
	MeasurementRetention int `mapstructure:"MEASUREMENT_RETENTION_DAYS"`
	SyncLogRetention     int `mapstructure:"SYNC_LOG_RETENTION_DAYS"`

	FitbitClientID       string `mapstructure:"FITBIT_CLIENT_ID"`
	FitbitClientSecret   string `mapstructure:"FITBIT_CLIENT_SECRET"`
	FitbitRedirectURL    string `mapstructure:"FITBIT_REDIRECT_URL"`
	WithingsClientID     string `mapstructure:"WITHINGS_CLIENT_ID"`
	WithingsClientSecret string `mapstructure:"WITHINGS_CLIENT_SECRET"`
	WithingsRedirectURL  string `mapstructure:"WITHINGS_REDIRECT_URL"`
	GarminClientID       string `mapstructure:"GARMIN_CLIENT_ID"`
	GarminClientSecret   string `mapstructure:"GARMIN_CLIENT_SECRET"`
	GarminRedirectURL    string `mapstructure:"GARMIN_REDIRECT_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_LOOKBACK_DAYS", 30)
	v.SetDefault("SYNC_INTERVAL_MINUTES", 15)
	v.SetDefault("MIN_SYNC_FREQUENCY_HOURS", 1)
	v.SetDefault("MAX_SYNC_FREQUENCY_HOURS", 168)
	v.SetDefault("MEASUREMENT_RETENTION_DAYS", 730)
	v.SetDefault("SYNC_LOG_RETENTION_DAYS", 90)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
		"ENCRYPTION_KEY", "DEFAULT_LOOKBACK_DAYS", "SYNC_INTERVAL_MINUTES",
		"MIN_SYNC_FREQUENCY_HOURS", "MAX_SYNC_FREQUENCY_HOURS",
		"MEASUREMENT_RETENTION_DAYS", "SYNC_LOG_RETENTION_DAYS",
		"FITBIT_CLIENT_ID", "FITBIT_CLIENT_SECRET", "FITBIT_REDIRECT_URL",
		"WITHINGS_CLIENT_ID", "WITHINGS_CLIENT_SECRET", "WITHINGS_REDIRECT_URL",
		"GARMIN_CLIENT_ID", "GARMIN_CLIENT_SECRET", "GARMIN_REDIRECT_URL",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Fitbit, Withings and Garmin return the OAuth registration for the matching
// cloud provider. Push providers have no client credentials.
func (c *Config) Fitbit() ProviderCredentials {
	return ProviderCredentials{c.FitbitClientID, c.FitbitClientSecret, c.FitbitRedirectURL}
}

func (c *Config) Withings() ProviderCredentials {
	return ProviderCredentials{c.WithingsClientID, c.WithingsClientSecret, c.WithingsRedirectURL}
}

func (c *Config) Garmin() ProviderCredentials {
	return ProviderCredentials{c.GarminClientID, c.GarminClientSecret, c.GarminRedirectURL}
}

// Validate checks that the configuration is safe to run. In production an
// encryption key is mandatory because OAuth tokens are stored at rest; in any
// environment a provided key must decode to exactly 32 bytes.
func (c *Config) Validate() error {
	if c.IsProduction() && c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	if c.EncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if c.IsProduction() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set in production; refusing to start without authentication")
	}
	if c.MinSyncFrequencyHrs < 1 || c.MaxSyncFrequencyHrs > 168 || c.MinSyncFrequencyHrs > c.MaxSyncFrequencyHrs {
		return fmt.Errorf("sync frequency bounds must satisfy 1 <= min <= max <= 168, got [%d, %d]",
			c.MinSyncFrequencyHrs, c.MaxSyncFrequencyHrs)
	}
	if c.DefaultLookbackDays <= 0 {
		return fmt.Errorf("DEFAULT_LOOKBACK_DAYS must be positive, got %d", c.DefaultLookbackDays)
	}
	return nil
}
