package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BASE_URL", "https://api.example.edu")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id.apps.googleusercontent.com")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "https://api.example.edu/api/google/authorize-callback")
	t.Setenv("AUTH_ISSUER", "https://project.supabase.co/auth/v1")
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Errorf("expected production, got %q", cfg.Server.Environment)
	}
	if cfg.Server.FrontendURL != "http://localhost:3000" {
		t.Errorf("FrontendURL = %q", cfg.Server.FrontendURL)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Google.CalendarID != "primary" {
		t.Errorf("CalendarID = %q", cfg.Google.CalendarID)
	}
	if cfg.Identity.Audience != "authenticated" {
		t.Errorf("Audience = %q", cfg.Identity.Audience)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.URL != "./data/calsync.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Sync.LookBackDays != 90 || cfg.Sync.LookAheadDays != 270 || cfg.Sync.MaxResults != 2500 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.DefaultTimeZone != "America/New_York" {
		t.Errorf("DefaultTimeZone = %q", cfg.Sync.DefaultTimeZone)
	}
	if cfg.Sync.ProviderTimeout != 15*time.Second || cfg.Sync.Timeout != 2*time.Minute || cfg.Sync.RefreshMargin != 5*time.Minute {
		t.Errorf("Sync timings = %+v", cfg.Sync)
	}
	if cfg.Canvas.Host != "canvas.wisc.edu" {
		t.Errorf("Canvas.Host = %q", cfg.Canvas.Host)
	}
	if cfg.Notify.WebhookURL != "" || cfg.Notify.CooldownPeriod != time.Hour {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.RateLimiting.RPS != 10 || cfg.RateLimiting.Burst != 20 {
		t.Errorf("RateLimiting = %+v", cfg.RateLimiting)
	}

	back, ahead := cfg.SyncWindow()
	if back != 90*24*time.Hour || ahead != 270*24*time.Hour {
		t.Errorf("SyncWindow = %v, %v", back, ahead)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ENVIRONMENT", "Development")
	t.Setenv("FRONTEND_URL", "https://portal.example.edu/")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example.edu, https://staging.example.edu/")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://calsync@db/calsync?sslmode=disable")
	t.Setenv("SYNC_TIMEOUT", "45s")
	t.Setenv("SYNC_DEFAULT_TIMEZONE", "America/Chicago")
	t.Setenv("CANVAS_HOST", "Canvas.Example.EDU")
	t.Setenv("NOTIFY_WEBHOOK_URL", "https://hooks.example.com/services/T0")
	t.Setenv("NOTIFY_COOLDOWN", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.IsDevelopment() {
		t.Errorf("expected development, got %q", cfg.Server.Environment)
	}
	if cfg.Server.FrontendURL != "https://portal.example.edu" {
		t.Errorf("FrontendURL = %q", cfg.Server.FrontendURL)
	}
	want := []string{"https://portal.example.edu", "https://staging.example.edu"}
	if strings.Join(cfg.Server.AllowedOrigins, ",") != strings.Join(want, ",") {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q", cfg.Database.Driver)
	}
	if cfg.Sync.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v", cfg.Sync.Timeout)
	}
	if cfg.Canvas.Host != "canvas.example.edu" {
		t.Errorf("Canvas.Host = %q", cfg.Canvas.Host)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/services/T0" || cfg.Notify.CooldownPeriod != 30*time.Minute {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  error
	}{
		{"bad port", "PORT", "eighty", ErrInvalidConfig},
		{"bad key hex", "ENCRYPTION_KEY", "zz", ErrInvalidConfig},
		{"short key", "ENCRYPTION_KEY", "abcd", ErrEncryptionKeySize},
		{"short secret", "SESSION_SECRET", "short", ErrSessionSecretSize},
		{"unknown driver", "DATABASE_DRIVER", "mysql", ErrInvalidConfig},
		{"bad zone", "SYNC_DEFAULT_TIMEZONE", "Mars/Olympus", ErrInvalidConfig},
		{"bad duration", "SYNC_TIMEOUT", "soon", ErrInvalidConfig},
		{"negative duration", "TOKEN_REFRESH_MARGIN", "-5m", ErrInvalidConfig},
		{"zero lookahead", "SYNC_LOOKAHEAD_DAYS", "0", ErrInvalidConfig},
		{"bad rps", "RATE_LIMIT_RPS", "fast", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("missing required", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GOOGLE_CLIENT_SECRET", "")
		t.Setenv("AUTH_ISSUER", "")

		_, err := Load()
		if !errors.Is(err, ErrMissingConfig) {
			t.Fatalf("expected ErrMissingConfig, got %v", err)
		}
		if !strings.Contains(err.Error(), "GOOGLE_CLIENT_SECRET") || !strings.Contains(err.Error(), "AUTH_ISSUER") {
			t.Errorf("error should name missing keys: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("production urls", func(t *testing.T) {
		cfg.Server.FrontendURL = "https://portal.example.edu"
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("plain http in production", func(t *testing.T) {
		cfg.Server.FrontendURL = "http://portal.example.edu"
		if err := cfg.Validate(); !errors.Is(err, ErrValidationFailed) {
			t.Errorf("expected ErrValidationFailed, got %v", err)
		}
	})

	t.Run("plain http in development", func(t *testing.T) {
		cfg.Server.Environment = EnvDevelopment
		cfg.Server.FrontendURL = "http://localhost:3000"
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
