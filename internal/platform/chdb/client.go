package chdb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/yungbote/revisit-backend/internal/platform/envutil"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

type Client struct {
	Conn     driver.Conn
	Database string
	log      *logger.Logger
}

// NewFromEnv returns nil without error when CLICKHOUSE_ADDR is unset: the
// analytical store is a best-effort secondary and the engine runs without it.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("chdb: logger required")
	}

	addr := strings.TrimSpace(os.Getenv("CLICKHOUSE_ADDR"))
	if addr == "" {
		return nil, nil
	}

	database := envutil.GetEnv("CLICKHOUSE_DB", "revisit", log)
	user := envutil.GetEnv("CLICKHOUSE_USER", "default", log)
	password := envutil.GetEnv("CLICKHOUSE_PASSWORD", "", log)
	timeoutSec := envutil.GetEnvAsInt("CLICKHOUSE_TIMEOUT_SECONDS", 10, log)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: time.Duration(timeoutSec) * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("chdb: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("chdb: ping: %w", err)
	}

	return &Client{
		Conn:     conn,
		Database: database,
		log:      log.With("client", "ClickHouse"),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.Conn == nil {
		return nil
	}
	err := c.Conn.Close()
	c.Conn = nil
	return err
}
