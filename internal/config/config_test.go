package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exchange.yaml")
	body := []byte(`
own_bpnl: BPNL0000000001AA
edc_management_url: http://edc:8181/management
framework_agreement: cx-policy:FrameworkAgreement
token_ttl: 2m
poll_attempts: 50
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	t.Setenv("POLL_ATTEMPTS", "7")
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("PUBLIC_BASE_URL", "https://exchange.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OwnBPNL != "BPNL0000000001AA" {
		t.Fatalf("own bpnl not read from file, got %q", cfg.OwnBPNL)
	}
	if cfg.TokenTTL != 2*time.Minute {
		t.Fatalf("expected 2m ttl, got %s", cfg.TokenTTL)
	}
	if cfg.PollAttempts != 7 {
		t.Fatalf("env should override file, got %d", cfg.PollAttempts)
	}
	if !cfg.RunLocal {
		t.Fatalf("expected RUN_LOCAL to be applied")
	}
	if cfg.PublicBaseURL != "https://exchange.example.com" {
		t.Fatalf("expected public base url from env, got %q", cfg.PublicBaseURL)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("OWN_BPNL", "")
	t.Setenv("EDC_MANAGEMENT_URL", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for missing own_bpnl")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("OWN_BPNL", "BPNL0000000001AA")
	t.Setenv("EDC_MANAGEMENT_URL", "http://edc")
	t.Setenv("TOKEN_TTL", "five minutes")
	if _, err := Load(""); err == nil {
		t.Fatal("expected parse error for TOKEN_TTL")
	}
}

func TestLoad_LedgerBackend(t *testing.T) {
	t.Setenv("OWN_BPNL", "BPNL0000000001AA")
	t.Setenv("EDC_MANAGEMENT_URL", "http://edc")

	t.Setenv("LEDGER_BACKEND", "memory")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LedgerBackend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.LedgerBackend)
	}

	t.Setenv("LEDGER_BACKEND", "postgres")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown ledger backend")
	}
}
