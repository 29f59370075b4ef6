package authapi

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"herald/cmd/internal/ratelimit"
)

// Config controls the public HTTP surface and its limits.
type Config struct {
	TrustProxy   bool   `env:"HERALD_TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64  `env:"HERALD_MAX_BODY_BYTES" envDefault:"65536"`
	AdminKey     string `env:"HERALD_ADMIN_API_KEY"`

	InviteTTLHours int `env:"HERALD_INVITE_TTL_HOURS" envDefault:"168"`
	ResetTTLHours  int `env:"HERALD_RESET_TTL_HOURS" envDefault:"1"`
	MaxTTLHours    int `env:"HERALD_TOKEN_TTL_MAX_HOURS" envDefault:"720"`

	WaitlistIPMax       int           `env:"HERALD_WAITLIST_IP_MAX" envDefault:"10"`
	WaitlistIPWindow    time.Duration `env:"HERALD_WAITLIST_IP_WINDOW" envDefault:"1m"`
	WaitlistEmailMax    int           `env:"HERALD_WAITLIST_EMAIL_MAX" envDefault:"3"`
	WaitlistEmailWindow time.Duration `env:"HERALD_WAITLIST_EMAIL_WINDOW" envDefault:"1h"`
	TokenIPMax          int           `env:"HERALD_TOKEN_IP_MAX" envDefault:"30"`
	TokenIPWindow       time.Duration `env:"HERALD_TOKEN_IP_WINDOW" envDefault:"1m"`
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse api config: %w", err)
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.MaxTTLHours <= 0 {
		c.MaxTTLHours = 720
	}
	if c.InviteTTLHours <= 0 {
		c.InviteTTLHours = 168
	}
	if c.ResetTTLHours <= 0 {
		c.ResetTTLHours = 1
	}
	if c.InviteTTLHours > c.MaxTTLHours {
		c.InviteTTLHours = c.MaxTTLHours
	}
	if c.ResetTTLHours > c.MaxTTLHours {
		c.ResetTTLHours = c.MaxTTLHours
	}

	// Windows must stay positive; a zero max disables the policy instead.
	if c.WaitlistIPWindow <= 0 {
		c.WaitlistIPWindow = time.Minute
	}
	if c.WaitlistEmailWindow <= 0 {
		c.WaitlistEmailWindow = time.Hour
	}
	if c.TokenIPWindow <= 0 {
		c.TokenIPWindow = time.Minute
	}
}

// WaitlistIPPolicy bounds signups per client address.
func (c Config) WaitlistIPPolicy() ratelimit.Policy {
	return ratelimit.Policy{Name: "waitlist_ip", Max: c.WaitlistIPMax, Window: c.WaitlistIPWindow}
}

// WaitlistEmailPolicy bounds signups per normalized address.
func (c Config) WaitlistEmailPolicy() ratelimit.Policy {
	return ratelimit.Policy{Name: "waitlist_email", Max: c.WaitlistEmailMax, Window: c.WaitlistEmailWindow}
}

// TokenIPPolicy bounds token mint/validate/accept calls per client address.
func (c Config) TokenIPPolicy() ratelimit.Policy {
	return ratelimit.Policy{Name: "token_ip", Max: c.TokenIPMax, Window: c.TokenIPWindow}
}
