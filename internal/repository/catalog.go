package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/iago/consulta-async/internal/domain"
)

// CatalogRepository is the read-only product catalog. Only the processor holds one.
type CatalogRepository interface {
	// ListRecords returns every record ordered by key.
	ListRecords(ctx context.Context) ([]domain.CatalogRecord, error)
	FindRecord(ctx context.Context, key string) (*domain.CatalogRecord, error)
	Ping(ctx context.Context) error
}

// MemoryCatalog serves a fixed set of records.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[string]domain.CatalogRecord
}

func NewMemoryCatalog(records ...domain.CatalogRecord) *MemoryCatalog {
	catalog := &MemoryCatalog{records: make(map[string]domain.CatalogRecord, len(records))}
	for _, record := range records {
		catalog.records[record.Key] = record
	}
	return catalog
}

// Put replaces a record. Used by seeding and tests; the processor never writes.
func (c *MemoryCatalog) Put(record domain.CatalogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[record.Key] = record
}

func (c *MemoryCatalog) ListRecords(context.Context) ([]domain.CatalogRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]domain.CatalogRecord, 0, len(c.records))
	for _, record := range c.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})
	return records, nil
}

func (c *MemoryCatalog) FindRecord(_ context.Context, key string) (*domain.CatalogRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (c *MemoryCatalog) Ping(context.Context) error {
	return nil
}

// LoadCatalogSeed reads a JSON array of {codigo, nombre, ubicacion} records.
func LoadCatalogSeed(path string) ([]domain.CatalogRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	var records []domain.CatalogRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	return records, nil
}
