package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"mabletask/agent/config"
)

// ErrLedgerDisabled is returned when no ClickHouse host is configured.
var ErrLedgerDisabled = errors.New("clickhouse ledger not configured")

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

// NewClickHouseDB connects to the delivery ledger over the native protocol.
func NewClickHouseDB(cfg config.LedgerConfig) (*ClickHouseClient, error) {
	if cfg.Host == "" {
		return nil, ErrLedgerDisabled
	}
	if cfg.Port == 0 || cfg.Database == "" {
		return nil, fmt.Errorf("CLICKHOUSE_NATIVE_PORT and CLICKHOUSE_DB_NAME must be set with CLICKHOUSE_HOST")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "attribution-agent", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &ClickHouseClient{Conn: conn}, nil
}

func (c *ClickHouseClient) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
