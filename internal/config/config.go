package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	SupabaseURL      string        `mapstructure:"SUPABASE_URL"`
	ServiceRoleKey   string        `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret        string        `mapstructure:"SUPABASE_JWT_SECRET"`
	IdentityProvider string        `mapstructure:"IDENTITY_PROVIDER"`
	SMSWebhookURL    string        `mapstructure:"SMS_WEBHOOK_URL"`
	SMSWebhookSecret string        `mapstructure:"SMS_WEBHOOK_SECRET"`
	AppBaseURL       string        `mapstructure:"APP_BASE_URL"`
	InvitationTTL    time.Duration `mapstructure:"INVITATION_TTL"`
	ScanInterval     time.Duration `mapstructure:"SCAN_INTERVAL"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	WebhookRetries   int           `mapstructure:"WEBHOOK_MAX_RETRIES"`
	WebhookQueueSize int           `mapstructure:"WEBHOOK_QUEUE_SIZE"`
	Timezone         string        `mapstructure:"TIMEZONE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_JWT_SECRET", "IDENTITY_PROVIDER",
	"SMS_WEBHOOK_URL", "SMS_WEBHOOK_SECRET", "APP_BASE_URL", "INVITATION_TTL",
	"SCAN_INTERVAL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"WEBHOOK_MAX_RETRIES", "WEBHOOK_QUEUE_SIZE", "TIMEZONE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("IDENTITY_PROVIDER", "") // inferred, see ResolvedIdentityProvider
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("INVITATION_TTL", "168h")
	v.SetDefault("SCAN_INTERVAL", "10m")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("WEBHOOK_MAX_RETRIES", 3)
	v.SetDefault("WEBHOOK_QUEUE_SIZE", 256)
	v.SetDefault("TIMEZONE", "Australia/Sydney")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	}
	cfg.AppBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AppBaseURL), "/")
	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// ResolvedIdentityProvider returns the effective identity provider. If
// IDENTITY_PROVIDER is explicitly set, it is returned. Otherwise:
//   - SUPABASE_URL set → "supabase" (GoTrue admin API)
//   - Otherwise        → "local" (auth_users table in DATABASE_URL)
func (c *Config) ResolvedIdentityProvider() string {
	if c.IdentityProvider != "" {
		return c.IdentityProvider
	}
	if c.SupabaseURL != "" {
		return "supabase"
	}
	return "local"
}

// WebhookEnabled reports whether invitation SMS dispatch is configured.
func (c *Config) WebhookEnabled() bool {
	return strings.TrimSpace(c.SMSWebhookURL) != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.ResolvedIdentityProvider() {
	case "supabase":
		if c.SupabaseURL == "" || c.ServiceRoleKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase identity provider")
		}
	case "local":
	default:
		return fmt.Errorf("IDENTITY_PROVIDER must be \"supabase\" or \"local\", got %q", c.IdentityProvider)
	}

	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.InvitationTTL <= 0 {
		return fmt.Errorf("INVITATION_TTL must be positive, got %s", c.InvitationTTL)
	}
	if c.ScanInterval < 0 {
		return fmt.Errorf("SCAN_INTERVAL must not be negative, got %s", c.ScanInterval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE, used for dates shown to staff and patients.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
