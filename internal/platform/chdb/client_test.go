package chdb

import (
	"testing"

	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

func TestNewFromEnvUnsetDisablesStore(t *testing.T) {
	t.Setenv("CLICKHOUSE_ADDR", "")

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	client, err := NewFromEnv(log)
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client when CLICKHOUSE_ADDR is unset")
	}
}
