package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8082" {
		t.Fatalf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.Updater.BatchConcurrency != 4 {
		t.Fatalf("batch_concurrency = %d, want 4", cfg.Updater.BatchConcurrency)
	}
	if cfg.Updater.ShutdownGrace() != 10*time.Second {
		t.Fatalf("shutdown grace = %v", cfg.Updater.ShutdownGrace())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw-core.yaml")
	data := []byte("http_addr: \":9090\"\nlog_level: debug\nupdater:\n  batch_concurrency: 8\n  checkpoint_delay_ms: 0\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Updater.BatchConcurrency != 8 {
		t.Fatalf("batch_concurrency = %d, want 8", cfg.Updater.BatchConcurrency)
	}
	if cfg.Updater.CheckpointDelay() != 0 {
		t.Fatalf("checkpoint delay = %v, want 0", cfg.Updater.CheckpointDelay())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8082" {
		t.Fatalf("http_addr = %q", cfg.HTTPAddr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FW_HTTP_ADDR", ":7000")
	t.Setenv("FW_BATCH_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("http_addr = %q, want :7000", cfg.HTTPAddr)
	}
	if cfg.Updater.BatchConcurrency != 2 {
		t.Fatalf("batch_concurrency = %d, want 2", cfg.Updater.BatchConcurrency)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http_addr: [:::"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
