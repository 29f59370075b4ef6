package authapi

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrustProxy {
		t.Fatalf("proxy headers must not be trusted by default")
	}
	if cfg.InviteTTLHours != 168 || cfg.ResetTTLHours != 1 || cfg.MaxTTLHours != 720 {
		t.Fatalf("unexpected ttl defaults: %+v", cfg)
	}
	if p := cfg.WaitlistEmailPolicy(); p.Name != "waitlist_email" || p.Max != 3 || p.Window != time.Hour {
		t.Fatalf("unexpected email policy: %+v", p)
	}
}

func TestLoadConfigFromEnv_Clamps(t *testing.T) {
	t.Setenv("HERALD_INVITE_TTL_HOURS", "1000")
	t.Setenv("HERALD_TOKEN_TTL_MAX_HOURS", "48")
	t.Setenv("HERALD_MAX_BODY_BYTES", "-5")
	t.Setenv("HERALD_TOKEN_IP_WINDOW", "0s")
	t.Setenv("HERALD_TRUST_PROXY", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InviteTTLHours != 48 {
		t.Fatalf("invite ttl must be clamped to max, got %d", cfg.InviteTTLHours)
	}
	if cfg.MaxBodyBytes != 64<<10 {
		t.Fatalf("expected default body limit, got %d", cfg.MaxBodyBytes)
	}
	if cfg.TokenIPWindow != time.Minute {
		t.Fatalf("expected default token window, got %v", cfg.TokenIPWindow)
	}
	if !cfg.TrustProxy {
		t.Fatalf("expected trust proxy")
	}
}

func TestLoadConfigFromEnv_RejectsGarbage(t *testing.T) {
	t.Setenv("HERALD_WAITLIST_IP_MAX", "lots")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}
