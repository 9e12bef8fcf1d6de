package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones without relying on the host

	"github.com/joho/godotenv"

	"github.com/quadhls/calsync/internal/validator"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
	ErrSessionSecretSize = errors.New("session secret must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Google       GoogleConfig
	Identity     IdentityConfig
	Security     SecurityConfig
	Database     DatabaseConfig
	Sync         SyncConfig
	Canvas       CanvasConfig
	Notify       NotifyConfig
	RateLimiting RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int
	BaseURL        string
	Environment    Environment
	FrontendURL    string
	AllowedOrigins []string
}

// GoogleConfig holds the OAuth client and Calendar API settings.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CalendarID   string
	APIEndpoint  string
}

// IdentityConfig describes how bearer tokens on API requests are verified.
type IdentityConfig struct {
	Issuer   string
	JWKSURL  string
	Audience string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey string
	SessionSecret string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// SyncConfig holds the sync window and timing settings.
type SyncConfig struct {
	LookBackDays    int
	LookAheadDays   int
	MaxResults      int
	DefaultTimeZone string
	ProviderTimeout time.Duration
	Timeout         time.Duration
	RefreshMargin   time.Duration
}

// CanvasConfig holds Canvas feed settings.
type CanvasConfig struct {
	Host string
}

// NotifyConfig holds operator alert settings. An empty webhook disables alerts.
type NotifyConfig struct {
	WebhookURL     string
	CooldownPeriod time.Duration
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	var err error

	// Server configuration
	if cfg.Server.Port, err = getEnvInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.BaseURL = getEnvRequired("BASE_URL")
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))
	cfg.Server.FrontendURL = strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/")
	cfg.Server.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", cfg.Server.FrontendURL))

	// Google configuration
	cfg.Google.ClientID = getEnvRequired("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = getEnvRequired("GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = getEnvRequired("GOOGLE_REDIRECT_URL")
	cfg.Google.CalendarID = getEnv("GOOGLE_CALENDAR_ID", "primary")
	cfg.Google.APIEndpoint = getEnv("GOOGLE_API_ENDPOINT", "")

	// Identity configuration
	cfg.Identity.Issuer = getEnvRequired("AUTH_ISSUER")
	cfg.Identity.JWKSURL = getEnv("AUTH_JWKS_URL", "")
	cfg.Identity.Audience = getEnv("AUTH_AUDIENCE", "authenticated")

	// Security configuration
	cfg.Security.EncryptionKey = getEnvRequired("ENCRYPTION_KEY")
	if cfg.Security.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
		}
		if len(key) != 32 {
			return nil, ErrEncryptionKeySize
		}
	}

	cfg.Security.SessionSecret = getEnvRequired("SESSION_SECRET")
	if cfg.Security.SessionSecret != "" && len(cfg.Security.SessionSecret) < 32 {
		return nil, ErrSessionSecretSize
	}

	// Database configuration
	cfg.Database.Driver = strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite"))
	cfg.Database.URL = getEnv("DATABASE_URL", "./data/calsync.db")
	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("%w: DATABASE_DRIVER: %q", ErrInvalidConfig, cfg.Database.Driver)
	}

	// Sync configuration
	if cfg.Sync.LookBackDays, err = getEnvInt("SYNC_LOOKBACK_DAYS", 90); err != nil {
		return nil, fmt.Errorf("%w: SYNC_LOOKBACK_DAYS: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.LookAheadDays, err = getEnvInt("SYNC_LOOKAHEAD_DAYS", 270); err != nil {
		return nil, fmt.Errorf("%w: SYNC_LOOKAHEAD_DAYS: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.MaxResults, err = getEnvInt("SYNC_MAX_RESULTS", 2500); err != nil {
		return nil, fmt.Errorf("%w: SYNC_MAX_RESULTS: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.LookBackDays < 0 || cfg.Sync.LookAheadDays <= 0 || cfg.Sync.MaxResults <= 0 {
		return nil, fmt.Errorf("%w: sync window and page size must be positive", ErrInvalidConfig)
	}

	cfg.Sync.DefaultTimeZone = getEnv("SYNC_DEFAULT_TIMEZONE", "America/New_York")
	if _, err := time.LoadLocation(cfg.Sync.DefaultTimeZone); err != nil {
		return nil, fmt.Errorf("%w: SYNC_DEFAULT_TIMEZONE: %w", ErrInvalidConfig, err)
	}

	if cfg.Sync.ProviderTimeout, err = getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("%w: PROVIDER_TIMEOUT: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.Timeout, err = getEnvDuration("SYNC_TIMEOUT", 2*time.Minute); err != nil {
		return nil, fmt.Errorf("%w: SYNC_TIMEOUT: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.RefreshMargin, err = getEnvDuration("TOKEN_REFRESH_MARGIN", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("%w: TOKEN_REFRESH_MARGIN: %w", ErrInvalidConfig, err)
	}

	// Canvas configuration
	cfg.Canvas.Host = strings.ToLower(getEnv("CANVAS_HOST", "canvas.wisc.edu"))

	// Notification configuration
	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	if cfg.Notify.CooldownPeriod, err = getEnvDuration("NOTIFY_COOLDOWN", time.Hour); err != nil {
		return nil, fmt.Errorf("%w: NOTIFY_COOLDOWN: %w", ErrInvalidConfig, err)
	}

	// Rate limiting configuration
	if cfg.RateLimiting.RPS, err = getEnvFloat("RATE_LIMIT_RPS", 10.0); err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	if cfg.RateLimiting.Burst, err = getEnvInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}

	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if c.Server.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.Google.ClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.Google.ClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if c.Google.RedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}
	if c.Identity.Issuer == "" {
		missing = append(missing, "AUTH_ISSUER")
	}
	if c.Security.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if c.Security.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	return missing
}

// Validate checks the format of the configured URLs.
func (c *Config) Validate() error {
	v := validator.New()
	https := c.IsProduction()

	checks := []struct {
		name string
		url  string
	}{
		{"BASE_URL", c.Server.BaseURL},
		{"FRONTEND_URL", c.Server.FrontendURL},
		{"GOOGLE_REDIRECT_URL", c.Google.RedirectURL},
		{"AUTH_ISSUER", c.Identity.Issuer},
	}
	if c.Identity.JWKSURL != "" {
		checks = append(checks, struct {
			name string
			url  string
		}{"AUTH_JWKS_URL", c.Identity.JWKSURL})
	}

	for _, check := range checks {
		if err := v.ValidateURL(check.url, https); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidationFailed, check.name, err)
		}
	}

	return nil
}

// SyncWindow returns the look-back and look-ahead spans of a full sync.
func (c *Config) SyncWindow() (time.Duration, time.Duration) {
	day := 24 * time.Hour
	return time.Duration(c.Sync.LookBackDays) * day, time.Duration(c.Sync.LookAheadDays) * day
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

// getEnvDuration returns the duration value of an environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", value)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.TrimSuffix(part, "/"))
		}
	}
	return out
}
