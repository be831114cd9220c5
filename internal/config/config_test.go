package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		t.Fatalf("expected dev secrets to be filled in")
	}
	if cfg.AccessTokenTTL != defaultAccessTTL {
		t.Fatalf("expected access ttl %s, got %s", defaultAccessTTL, cfg.AccessTokenTTL)
	}
	if cfg.Currency != "KES" {
		t.Fatalf("expected KES, got %s", cfg.Currency)
	}
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}
}

func TestLoadParsesDurationsAndRPC(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("SIWE_NONCE_TTL", "90s")
	t.Setenv("RPC_BASE", "https://base.example")
	t.Setenv("RPC_HEDERA_TESTNET", "https://hedera.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("expected 3s shutdown, got %s", cfg.ShutdownPeriod)
	}
	if cfg.SIWENonceTTL != 90*time.Second {
		t.Fatalf("expected 90s nonce ttl, got %s", cfg.SIWENonceTTL)
	}
	if cfg.RPCEndpoints["base"] != "https://base.example" {
		t.Fatalf("expected base rpc override, got %v", cfg.RPCEndpoints)
	}
	if cfg.RPCEndpoints["hedera-testnet"] != "https://hedera.example" {
		t.Fatalf("expected hedera-testnet rpc override, got %v", cfg.RPCEndpoints)
	}
}

func TestLoadRejectsBadInteger(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOAN_INTEREST_BPS", "lots")

	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid LOAN_INTEREST_BPS to fail")
	}
}
