package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresCatalog struct {
	pool *pgxpool.Pool
}

func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

func (c *PostgresCatalog) ListRecords(ctx context.Context) ([]domain.CatalogRecord, error) {
	rows, err := c.pool.Query(ctx, `SELECT codigo, nombre, ubicacion FROM producto ORDER BY codigo`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	records := make([]domain.CatalogRecord, 0)
	for rows.Next() {
		var record domain.CatalogRecord
		if err := rows.Scan(&record.Key, &record.Name, &record.Location); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate products: %w", rows.Err())
	}
	return records, nil
}

func (c *PostgresCatalog) FindRecord(ctx context.Context, key string) (*domain.CatalogRecord, error) {
	var record domain.CatalogRecord
	err := c.pool.QueryRow(ctx, `
		SELECT codigo, nombre, ubicacion
		FROM producto
		WHERE codigo = $1
	`, key).Scan(&record.Key, &record.Name, &record.Location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &record, nil
}

func (c *PostgresCatalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
