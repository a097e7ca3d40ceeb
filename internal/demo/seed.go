package demo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/snowchat/snowchat/internal/storage"
)

type Summary struct {
	Rows    map[string]int `json:"rows"`
	Objects []string       `json:"objects"`
	Removed int            `json:"removed"`
}

// Seeder uploads the demo dataset as <prefix>/<table>/part-NNNN.parquet
// objects, the layout the DuckDB warehouse loads with
// SNOWCHAT_WAREHOUSE_PARQUET_PREFIX.
type Seeder struct {
	Store  storage.ObjectStore
	Config Config
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Seeder) Seed(ctx context.Context) (Summary, error) {
	if s.Store == nil {
		return Summary{}, fmt.Errorf("object store is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := s.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	cfg := s.Config
	generator := NewGenerator(cfg.Seed, now().AddDate(0, 0, -cfg.Days), cfg.Days)
	customers := generator.Customers(cfg.Customers)
	orders := generator.Orders(cfg.Orders, customers)

	summary := Summary{Rows: map[string]int{}}
	customerKeys, removed, err := writeTable(ctx, s.Store, cfg.Prefix, "customers", customers, cfg.Parts)
	if err != nil {
		return Summary{}, err
	}
	summary.Removed += removed
	orderKeys, removed, err := writeTable(ctx, s.Store, cfg.Prefix, "orders", orders, cfg.Parts)
	if err != nil {
		return Summary{}, err
	}
	summary.Removed += removed
	summary.Rows["customers"] = len(customers)
	summary.Rows["orders"] = len(orders)
	summary.Objects = append(customerKeys, orderKeys...)

	logger.Info("seeded demo dataset",
		slog.String("prefix", cfg.Prefix),
		slog.Int("customers", len(customers)),
		slog.Int("orders", len(orders)),
		slog.Int("objects", len(summary.Objects)),
		slog.Int("removed", summary.Removed),
	)
	return summary, nil
}

// writeTable replaces every part of table under prefix, so a reseed with
// fewer parts leaves no stale objects behind for the warehouse to load.
func writeTable[T any](ctx context.Context, store storage.ObjectStore, prefix, table string, rows []T, parts int) ([]string, int, error) {
	removed, err := storage.DeletePrefix(ctx, store, path.Join(prefix, table))
	if err != nil {
		return nil, 0, fmt.Errorf("clear %s: %w", table, err)
	}
	keys := make([]string, 0, parts)
	for index, part := range split(rows, parts) {
		data, err := EncodeParquet(part)
		if err != nil {
			return nil, removed, fmt.Errorf("encode %s part %d: %w", table, index, err)
		}
		key, err := storage.BuildParquetKey(prefix, table, index)
		if err != nil {
			return nil, removed, err
		}
		if _, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: storage.ContentTypeParquet}); err != nil {
			return nil, removed, fmt.Errorf("upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, removed, nil
}

// split divides rows into at most parts non-empty chunks of near equal size.
func split[T any](rows []T, parts int) [][]T {
	if parts <= 0 {
		parts = 1
	}
	if parts > len(rows) {
		parts = len(rows)
	}
	out := make([][]T, 0, parts)
	for i := 0; i < parts; i++ {
		lo := i * len(rows) / parts
		hi := (i + 1) * len(rows) / parts
		out = append(out, rows[lo:hi])
	}
	return out
}
