package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/consulta-async/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteScheme = "sqlite://"

// IsSQLiteDSN reports whether a catalog DSN points at a SQLite file.
func IsSQLiteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, sqliteScheme)
}

// SQLiteCatalog reads the producto table from a SQLite file. Useful for
// shipping a static catalog next to the worker.
type SQLiteCatalog struct {
	db *sql.DB
}

func OpenSQLiteCatalog(ctx context.Context, dsn string) (*SQLiteCatalog, error) {
	path := strings.TrimPrefix(dsn, sqliteScheme)
	if path == "" {
		return nil, errors.New("sqlite catalog path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite catalog: %w", err)
	}
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite catalog schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Upsert writes a record. Only used to seed the file.
func (c *SQLiteCatalog) Upsert(ctx context.Context, record domain.CatalogRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO producto (codigo, nombre, ubicacion) VALUES (?, ?, ?)
		ON CONFLICT (codigo) DO UPDATE SET nombre = excluded.nombre, ubicacion = excluded.ubicacion
	`, record.Key, record.Name, record.Location)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) ListRecords(ctx context.Context) ([]domain.CatalogRecord, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT codigo, nombre, ubicacion FROM producto ORDER BY codigo`)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return records, nil
}

func (c *SQLiteCatalog) FindRecord(ctx context.Context, key string) (*domain.CatalogRecord, error) {
	var record domain.CatalogRecord
	err := c.db.QueryRowContext(ctx, `
		SELECT codigo, nombre, ubicacion
		FROM producto
		WHERE codigo = ?
	`, key).Scan(&record.Key, &record.Name, &record.Location)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &record, nil
}

func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
