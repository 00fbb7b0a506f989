package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for an explicitly named missing file")
	}

	// With no explicit path and no file present, defaults apply.
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.IntervalSeconds != 60 {
		t.Errorf("interval = %d, want 60", cfg.Sync.IntervalSeconds)
	}
	if cfg.Sync.DebounceMs != 1200 {
		t.Errorf("debounce = %d, want 1200", cfg.Sync.DebounceMs)
	}
	if cfg.API.UserID != "shared-user" {
		t.Errorf("user id = %q", cfg.API.UserID)
	}
	if cfg.API.BaseURL != "" {
		t.Errorf("base url should default empty, got %q", cfg.API.BaseURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: ` + filepath.Join(dir, "data", "organiza.db") + `
api:
  base_url: http://localhost:8787/
  user_id: marina
sync:
  interval_seconds: 15
  debounce_ms: 500
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8787" {
		t.Errorf("base url = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.UserID != "marina" {
		t.Errorf("user id = %q", cfg.API.UserID)
	}
	if cfg.Sync.IntervalSeconds != 15 || cfg.Sync.DebounceMs != 500 {
		t.Errorf("sync settings = %+v", cfg.Sync)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  base_url: "not a url"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for malformed base url")
	}
}
