package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"edumarket/api/config"
)

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

func NewClickHouseDB(cfg config.ClickHouseConfig) (*ClickHouseClient, error) {
	if cfg.Addr == "" || cfg.Database == "" {
		return nil, fmt.Errorf("clickhouse addr and database must be set")
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "edumarket-analytics", Version: "1.0.0"}},
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
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Str("database", cfg.Database).Msg("Connected to ClickHouse")
	return &ClickHouseClient{Conn: conn}, nil
}

// Migrate creates the warehouse tables when they are missing.
func (c *ClickHouseClient) Migrate(ctx context.Context) error {
	for _, ddl := range clickhouseSchema {
		if err := c.Conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply ClickHouse schema: %w", err)
		}
	}
	return nil
}

var clickhouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		event_id    String,
		event_type  LowCardinality(String),
		visitor_id  String,
		session_id  String,
		timestamp   DateTime64(3, 'UTC'),
		page_path   String,
		referrer    String,
		user_agent  String,
		ip_address  String,
		duration_ms Int64,
		country     LowCardinality(String),
		channel     LowCardinality(String),
		event_data  String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (event_type, timestamp)`,
	`CREATE TABLE IF NOT EXISTS conversions (
		conversion_id     String,
		visitor_id        String,
		session_id        String,
		goal_id           LowCardinality(String),
		goal_type         LowCardinality(String),
		value             Float64,
		timestamp         DateTime64(3, 'UTC'),
		time_to_convert   Int64,
		touchpoints       UInt32,
		attribution_model LowCardinality(String),
		segment           LowCardinality(String),
		source            LowCardinality(String),
		medium            LowCardinality(String),
		campaign          String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (goal_id, timestamp)`,
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing ClickHouse connection")
			return
		}
		log.Info().Msg("ClickHouse connection closed")
	}
}
