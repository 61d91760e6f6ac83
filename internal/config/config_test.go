package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "setting.ini"), "environment=dev\nlog_level=debug\nupstream=loopback\nauth_secret=base-secret\n")
	writeFile(t, filepath.Join(tmp, "config", "dev", "chatrelay.ini"), `
; environment overrides
[http]
http_address = :9090

[upstream]
default_model = llama-3.1-70b-versatile
default_max_tokens = 2048
request_timeout = 30s

[storage]
database_url = postgres://relay@localhost/relay?sslmode=disable
ledger_url = /tmp/ledger.db
`)
	t.Setenv("CHATRELAY_AUTH_SECRET", "env-secret")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.Upstream != "loopback" {
		t.Fatalf("unexpected upstream %s", cfg.Upstream)
	}
	if cfg.AuthSecret != "env-secret" {
		t.Fatalf("unexpected auth secret %s", cfg.AuthSecret)
	}
	if cfg.DefaultModel != "llama-3.1-70b-versatile" || cfg.DefaultMaxTokens != 2048 {
		t.Fatalf("unexpected model defaults %s/%d", cfg.DefaultModel, cfg.DefaultMaxTokens)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.RequestTimeout)
	}
	if !UsesPostgres(cfg.DatabaseURL) || UsesPostgres(cfg.LedgerURL) {
		t.Fatalf("unexpected store kinds %s / %s", cfg.DatabaseURL, cfg.LedgerURL)
	}
	if !cfg.PlaygroundEnabled {
		t.Fatalf("playground should default on in dev")
	}
	if d, ok := cfg.Models.Default(); !ok || d.ID != "llama-3.1-70b-versatile" {
		t.Fatalf("unexpected default catalog %+v", cfg.Models)
	}
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-from-env")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "dev" || cfg.Upstream != "groq" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.GroqAPIKey != "gsk-from-env" {
		t.Fatalf("expected GROQ_API_KEY fallback, got %q", cfg.GroqAPIKey)
	}
	if cfg.UploadLimitBytes != 5_000_000 || cfg.DefaultBalance != 100 {
		t.Fatalf("unexpected defaults %d/%d", cfg.UploadLimitBytes, cfg.DefaultBalance)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "dev", "chatrelay.ini"), "upstream=openai\nupload_store=gcs\n")
	_, err := Load(tmp)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"Upstream", "GCSBucket"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestModelCatalog(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "models.yaml"), `
models:
  - id: llama-3.1-8b-instant
    max_tokens: 8192
  - id: mixtral-8x7b-32768
    max_tokens: 32768
    default: true
`)
	writeFile(t, filepath.Join(tmp, "config", "dev", "chatrelay.ini"), "models_file=models.yaml\n")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(cfg.Models))
	}
	if cfg.DefaultModel != "mixtral-8x7b-32768" {
		t.Fatalf("expected catalog default to apply, got %s", cfg.DefaultModel)
	}
	if got := cfg.Models.Clamp("LLAMA-3.1-8B-INSTANT", 100000); got != 8192 {
		t.Fatalf("expected clamp to 8192, got %d", got)
	}
	if got := cfg.Models.Clamp("unknown", 100000); got != 100000 {
		t.Fatalf("unknown models are not clamped, got %d", got)
	}
}

func TestLoadCatalogRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	writeFile(t, path, "models:\n  - id: a\n    max_tokens: 1\n  - id: A\n    max_tokens: 2\n")
	if _, err := LoadCatalog(path); err == nil {
		t.Fatalf("expected duplicate error")
	}
	writeFile(t, path, "models: []\n")
	if _, err := LoadCatalog(path); err == nil {
		t.Fatalf("expected empty catalog error")
	}
}
