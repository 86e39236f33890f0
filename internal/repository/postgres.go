package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ApplicationName string
	// Lazy skips the startup ping so the pool can be created while the
	// database is still unreachable.
	Lazy bool
}

// OpenPool creates a pgx pool and, unless cfg.Lazy, verifies connectivity.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if cfg.Lazy {
		return pool, nil
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS consulta (
	id BIGSERIAL PRIMARY KEY,
	tipo_consulta TEXT NOT NULL CHECK (tipo_consulta IN ('listar_todos', 'buscar_codigo')),
	codigo_buscado TEXT,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'not_found')),
	resultado JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ,
	CHECK ((tipo_consulta = 'buscar_codigo') = (codigo_buscado IS NOT NULL)),
	CHECK ((status = 'pending') = (processed_at IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_consulta_status_created_at ON consulta (status, created_at);
`

const catalogSchema = `
CREATE TABLE IF NOT EXISTS producto (
	codigo TEXT PRIMARY KEY,
	nombre TEXT NOT NULL,
	ubicacion TEXT NOT NULL
);
`

// EnsureLedgerSchema creates the job ledger table when missing.
func EnsureLedgerSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// EnsureCatalogSchema creates the product table when missing. Only the
// worker calls it; the gateway never touches producto.
func EnsureCatalogSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, catalogSchema); err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}
