package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitializeRequiresWorkspace(t *testing.T) {
	if err := Initialize("", Config{}); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}

func TestInitializeDisabledCreatesNoLogs(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Config{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Workflow("this should not hit disk")
	if _, err := os.Stat(filepath.Join(ws, ".forge", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist when debug mode is off")
	}
}

func TestDebugModeWritesCategoryFile(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Config{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Congress("vote tallied: %d yes", 2)
	Sync()

	data, err := os.ReadFile(filepath.Join(ws, ".forge", "logs", "congress.log"))
	if err != nil {
		t.Fatalf("congress.log not written: %v", err)
	}
	if !strings.Contains(string(data), "vote tallied: 2 yes") {
		t.Errorf("log line missing, got: %s", data)
	}
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	cfg := Config{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"api": false, "store": true},
	}
	if err := Initialize(ws, cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	API("should be filtered")
	Store("should be written")
	Sync()

	if _, err := os.Stat(filepath.Join(ws, ".forge", "logs", "api.log")); !os.IsNotExist(err) {
		t.Error("api.log should not exist when category disabled")
	}
	if _, err := os.Stat(filepath.Join(ws, ".forge", "logs", "store.log")); err != nil {
		t.Errorf("store.log should exist: %v", err)
	}
}
