package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("unexpected default listen addr %q", cfg.ListenAddr)
	}
	if cfg.CustodyAccount != "market-custody" {
		t.Errorf("unexpected default custody account %q", cfg.CustodyAccount)
	}
	if cfg.DatabaseURL == "" || cfg.JWTSecret == "" {
		t.Error("expected non-empty defaults")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MARKET_LISTEN_ADDR", ":9999")
	t.Setenv("MARKET_JWT_SECRET", "override-secret")

	cfg := Load()
	if cfg.ListenAddr != ":9999" {
		t.Errorf("expected env override, got %q", cfg.ListenAddr)
	}
	if cfg.JWTSecret != "override-secret" {
		t.Errorf("expected env override, got %q", cfg.JWTSecret)
	}
}
