package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const baseConfig = `
storage:
  uri: mongodb://localhost:27017
  database: convostore
memory:
  semantic_recall:
    top_k: 4
`

func TestManagerStatus(t *testing.T) {
	path := writeConfigFile(t, baseConfig)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.Checksum == "" {
		t.Fatal("Status().Checksum is empty")
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.ReloadCount == 0 {
		t.Fatal("Status().ReloadCount should be > 0")
	}
}

func TestManagerReloadUpdatesChecksumAndNotifies(t *testing.T) {
	path := writeConfigFile(t, baseConfig)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var notified *Config
	mgr.OnChange(func(c *Config) { notified = c })
	before := mgr.Status()

	if err := os.WriteFile(path, []byte(`
storage:
  uri: mongodb://localhost:27017
  database: convostore
memory:
  semantic_recall:
    top_k: 8
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Status()
	if after.Checksum == before.Checksum {
		t.Fatal("expected checksum to change after reload")
	}
	if after.ReloadCount != before.ReloadCount+1 {
		t.Fatalf("expected reload count %d, got %d", before.ReloadCount+1, after.ReloadCount)
	}
	if mgr.Get().Memory.SemanticRecall.TopK != 8 {
		t.Fatalf("expected top_k 8, got %d", mgr.Get().Memory.SemanticRecall.TopK)
	}
	if notified == nil || notified.Memory.SemanticRecall.TopK != 8 {
		t.Fatal("expected OnChange callback with the new config")
	}
}

func TestManagerReloadKeepsConfigOnError(t *testing.T) {
	path := writeConfigFile(t, baseConfig)
	mgr, err := NewManager(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("storage:\n  uri: \"\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected reload of invalid config to fail")
	}
	if mgr.Get().Storage.URI != "mongodb://localhost:27017" {
		t.Fatalf("expected previous config to be kept, got %q", mgr.Get().Storage.URI)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
