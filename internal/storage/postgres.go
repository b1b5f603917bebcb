package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	return connect(ctx, cfg.DSN(), cfg.MaxConnections)
}

func connect(ctx context.Context, dsn string, maxConns int) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS attribute_readings (
		id          UUID PRIMARY KEY,
		device_name TEXT NOT NULL,
		attribute   TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		read_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attribute_readings_lookup
		ON attribute_readings (device_name, attribute, read_at DESC)`,
}

// EnsureSchema creates the archive tables if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}
