// Package storage archives finished runs in Postgres. The engine treats
// the archive as optional: without a database the bench runs, only the
// history endpoints stay empty.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"benchlink/internal/config"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// EnsureSchema legt die Tabellen des Laufarchivs an, wenn sie fehlen.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			run_name TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			outcome TEXT NOT NULL DEFAULT 'running',
			error_message TEXT NOT NULL DEFAULT '',
			log_path TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			iteration INTEGER NOT NULL,
			section TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			device TEXT NOT NULL,
			command TEXT NOT NULL,
			detached BOOLEAN NOT NULL DEFAULT FALSE,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS run_steps_run_id_idx ON run_steps (run_id)`,
		`CREATE INDEX IF NOT EXISTS run_events_run_id_idx ON run_events (run_id)`,
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
