package app

import (
	"strings"
	"testing"
	"time"
)

const testTokenSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.LogFormat != "json" || cfg.DBSchema != "herald" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.RateLimitFailOpen || cfg.RateLimitCacheTTL != 5*time.Second {
		t.Fatalf("limiter must default to fail-open with a 5s cache")
	}
	if cfg.DLQMaxAttempts != 5 || cfg.ReplayInterval != 5*time.Minute {
		t.Fatalf("unexpected replay defaults: %+v", cfg)
	}
	if cfg.rateLimitBackend() != BackendMemory {
		t.Fatalf("expected memory backend without redis or db, got %q", cfg.rateLimitBackend())
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HERALD_RATELIMIT_FAIL_OPEN", "false")
	t.Setenv("HERALD_RATELIMIT_BACKEND", " Redis ")
	t.Setenv("HERALD_DLQ_MAX_ATTEMPTS", "0")
	t.Setenv("HERALD_LOG_FORMAT", "TEXT")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimitFailOpen {
		t.Fatalf("expected fail-closed")
	}
	if cfg.rateLimitBackend() != BackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.RateLimitBackend)
	}
	if cfg.DLQMaxAttempts != 5 {
		t.Fatalf("non-positive attempts must fall back to default, got %d", cfg.DLQMaxAttempts)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("expected normalized log format, got %q", cfg.LogFormat)
	}
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("HERALD_RATELIMIT_BACKEND", "memcached")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "memcached") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestRateLimitBackend_AutoPrefersRedis(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfg  Config
		want string
	}{
		{cfg: Config{RateLimitBackend: BackendAuto, RedisURL: "redis://x", DatabaseURL: "postgres://y"}, want: BackendRedis},
		{cfg: Config{RateLimitBackend: BackendAuto, DatabaseURL: "postgres://y"}, want: BackendPostgres},
		{cfg: Config{RateLimitBackend: BackendAuto}, want: BackendMemory},
		{cfg: Config{RateLimitBackend: BackendMemory, RedisURL: "redis://x"}, want: BackendMemory},
	}
	for _, tc := range cases {
		if got := tc.cfg.rateLimitBackend(); got != tc.want {
			t.Fatalf("rateLimitBackend(%+v)=%q want=%q", tc.cfg, got, tc.want)
		}
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	good := Config{TokenSecret: testTokenSecret}
	cases := []struct {
		name     string
		cfg      Config
		adminKey string
		wantErr  string
	}{
		{name: "ok", cfg: good},
		{name: "ok with admin key", cfg: good, adminKey: strings.Repeat("a", MinAdminKeyBytes)},
		{name: "missing secret", cfg: Config{}, wantErr: "missing"},
		{name: "short secret", cfg: Config{TokenSecret: "short"}, wantErr: "too short"},
		{name: "short admin key", cfg: good, adminKey: "admin", wantErr: "HERALD_ADMIN_API_KEY"},
		{name: "provider without from", cfg: Config{TokenSecret: testTokenSecret, ResendAPIKey: "re_123"}, wantErr: "HERALD_EMAIL_FROM"},
	}
	for _, tc := range cases {
		err := ValidateSecurityConfig(tc.cfg, tc.adminKey)
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.wantErr, err)
		}
	}
}
