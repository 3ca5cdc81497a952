package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
tenants:
  - code: BJ-HA-001
    name: Beijing Haidian Clinic
  - code: SH-PD-002
    name: Shanghai Pudong Clinic
reminders:
  days_ahead: 3
sync:
  batch_concurrency: 8
  secondary_timeout_seconds: 5
server:
  port: "9090"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, testLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TenantCodes(); len(got) != 2 || got[0] != "BJ-HA-001" || got[1] != "SH-PD-002" {
		t.Fatalf("unexpected tenant codes: %v", got)
	}
	if cfg.Reminders.DaysAhead != 3 {
		t.Fatalf("days_ahead = %d, want 3", cfg.Reminders.DaysAhead)
	}
	if cfg.Sync.BatchConcurrency != 8 {
		t.Fatalf("batch_concurrency = %d, want 8", cfg.Sync.BatchConcurrency)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %s, want 9090", cfg.Server.Port)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("TENANT_CODES", "BJ-HA-001, SH-PD-002")
	t.Setenv("REMINDER_DAYS_AHEAD", "14")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), testLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Tenants) != 2 {
		t.Fatalf("expected 2 tenants from env, got %v", cfg.Tenants)
	}
	if cfg.Reminders.DaysAhead != 14 {
		t.Fatalf("days_ahead = %d, want 14", cfg.Reminders.DaysAhead)
	}
	if cfg.Sync.BatchConcurrency != defaultBatchConcurrency {
		t.Fatalf("batch_concurrency = %d, want default", cfg.Sync.BatchConcurrency)
	}
}

func TestLoadRejectsDuplicateTenant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
tenants:
  - code: BJ-HA-001
  - code: BJ-HA-001
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, testLogger(t)); err == nil {
		t.Fatal("expected duplicate tenant code error")
	}
}
