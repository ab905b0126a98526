package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("AGENT_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DB.Driver)
	}
	if cfg.IDs.Strategy != IDStrategySequence {
		t.Fatalf("expected sequence id strategy, got %q", cfg.IDs.Strategy)
	}
	if cfg.Agent.Timeout != 60*time.Second {
		t.Fatalf("expected 60s agent timeout, got %s", cfg.Agent.Timeout)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Fatalf("expected 30m token ttl, got %s", cfg.Auth.TokenTTL)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AGENT_API_KEY", "test-key")

	if _, err := Load(); !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestValidateAgentKinds(t *testing.T) {
	base := func() *Config {
		return &Config{
			DB:    DBConfig{DSN: "file:x.db"},
			IDs:   IDConfig{Strategy: IDStrategyRandom, MaxAttempts: 0},
			Auth:  AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
			Agent: AgentConfig{Kind: AgentRemote},
		}
	}

	cfg := base()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAgentURL) {
		t.Fatalf("expected ErrMissingAgentURL, got %v", err)
	}

	cfg = base()
	cfg.Agent.BaseURL = "http://agent.internal/run"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.IDs.MaxAttempts != 1 {
		t.Fatalf("expected max attempts clamped to 1, got %d", cfg.IDs.MaxAttempts)
	}

	cfg = base()
	cfg.Agent.Kind = "bard"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported kind error")
	}

	cfg = base()
	cfg.IDs.Strategy = "uuid"
	cfg.Agent.BaseURL = "http://agent.internal/run"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidIDStrategy) {
		t.Fatalf("expected ErrInvalidIDStrategy, got %v", err)
	}
}

func TestMustList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	got := mustList("CORS_ALLOWED_ORIGINS", nil)
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("unexpected origins %#v", got)
	}
}
