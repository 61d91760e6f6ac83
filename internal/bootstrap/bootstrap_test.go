package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/chatrelay/internal/config"
)

func TestInitCreatesLoadableConfig(t *testing.T) {
	tmp := t.TempDir()
	data := filepath.Join(tmp, "data")
	if err := Init(InitOptions{Root: tmp, DataDir: data, Upstream: "loopback", HTTPAddress: ":9090"}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if !strings.Contains(string(settingBytes), "environment=dev") {
		t.Fatalf("missing environment: %s", settingBytes)
	}

	cfg, err := config.Load(tmp)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}
	if cfg.HTTPAddress != ":9090" || cfg.Upstream != "loopback" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DatabaseURL != filepath.Join(data, "identity.db") {
		t.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
	if len(cfg.Models) != len(DefaultModels) || cfg.DefaultModel != "llama-3.1-8b-instant" {
		t.Fatalf("unexpected models %+v default=%s", cfg.Models, cfg.DefaultModel)
	}
	if cfg.AuthSecret == "" || cfg.AuthSecret == "chatrelay-dev-secret" {
		t.Fatalf("expected generated secret, got %q", cfg.AuthSecret)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp, DataDir: filepath.Join(tmp, "data")}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestValidateRejectsUnknownUpstream(t *testing.T) {
	if err := Validate(InitOptions{Upstream: "openai"}); err == nil {
		t.Fatalf("expected error for unknown upstream")
	}
	if err := Validate(InitOptions{Environment: "../prod"}); err == nil {
		t.Fatalf("expected error for path-like environment")
	}
}
