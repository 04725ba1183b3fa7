package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9720 {
		t.Errorf("Server.Port = %d, want 9720", cfg.Server.Port)
	}
	if cfg.Stash.TimeoutMS != 10000 {
		t.Errorf("Stash.TimeoutMS = %d, want 10000", cfg.Stash.TimeoutMS)
	}
	if !cfg.Automation.UseStashDB || !cfg.Automation.UseThePornDB {
		t.Error("both sources should be enabled by default")
	}
	if cfg.Automation.AutoApply {
		t.Error("AutoApply should default to false")
	}
	if cfg.Automation.ThumbnailImprovementPct != 20 {
		t.Errorf("ThumbnailImprovementPct = %d, want 20", cfg.Automation.ThumbnailImprovementPct)
	}
	if len(cfg.Automation.NegativePhrases) == 0 {
		t.Error("NegativePhrases should have defaults")
	}
	if cfg.Batch.Concurrency != 3 {
		t.Errorf("Batch.Concurrency = %d, want 3", cfg.Batch.Concurrency)
	}
	if cfg.Shortcuts["automate"] == "" {
		t.Error("default shortcut chord for automate missing")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9800
stash:
  endpoint: http://stash.local/graphql
  api_key: secret
automation:
  auto_apply: true
  use_theporndb: false
  thumbnail_improvement_pct: 50
  selectors:
    save_button: "button.custom-save"
batch:
  cron: "0 3 * * *"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9800 {
		t.Errorf("Server.Port = %d, want 9800", cfg.Server.Port)
	}
	if cfg.Stash.Endpoint != "http://stash.local/graphql" {
		t.Errorf("Stash.Endpoint = %q", cfg.Stash.Endpoint)
	}
	if !cfg.Automation.AutoApply {
		t.Error("AutoApply should be true from file")
	}
	if cfg.Automation.UseThePornDB {
		t.Error("UseThePornDB should be false from file")
	}
	if cfg.Automation.ThumbnailImprovementPct != 50 {
		t.Errorf("ThumbnailImprovementPct = %d, want 50", cfg.Automation.ThumbnailImprovementPct)
	}
	if got := cfg.Automation.Selectors["save_button"]; got != "button.custom-save" {
		t.Errorf("selector override = %q", got)
	}
	// Keys the file does not set keep their defaults.
	if !cfg.Automation.UseStashDB {
		t.Error("UseStashDB should keep its default")
	}
	if cfg.Batch.Concurrency != 3 {
		t.Errorf("Batch.Concurrency = %d, want default 3", cfg.Batch.Concurrency)
	}
}

func TestServerConfig_Address(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 9720}
	if got := c.Address(); got != "127.0.0.1:9720" {
		t.Errorf("Address() = %q", got)
	}
}
