package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/storage"
)

// Connection is a warehouse handle owned by exactly one session.
type Connection struct {
	db       *sql.DB
	dialect  Dialect
	database string
	schema   string

	closeOnce sync.Once
	closeErr  error
}

type OpenOptions struct {
	// Store is required when a DuckDB warehouse loads parquet tables.
	Store  storage.ObjectStore
	Logger *slog.Logger
}

func Open(ctx context.Context, cfg config.WarehouseConfig, opts OpenOptions) (*Connection, error) {
	dialect, err := DialectFor(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	dsn, err := dialect.DSN(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ParquetPrefix != "" && dialect.Name() == config.DialectDuckDB && opts.Store == nil {
		return nil, &config.Error{Key: "SNOWCHAT_WAREHOUSE_PARQUET_PREFIX", Reason: "object store must be enabled to load parquet tables"}
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, &ConnectionError{Dialect: dialect.Name(), Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Dialect: dialect.Name(), Err: err}
	}

	conn := NewConnection(db, dialect, cfg.Database, cfg.Schema)
	if cfg.ParquetPrefix != "" && dialect.Name() == config.DialectDuckDB {
		if _, err := LoadParquet(ctx, db, opts.Store, cfg.ParquetPrefix, cfg.Schema, opts.Logger); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("load parquet tables: %w", err)
		}
	}
	return conn, nil
}

// NewConnection wraps an already opened database.
func NewConnection(db *sql.DB, dialect Dialect, database, schema string) *Connection {
	return &Connection{db: db, dialect: dialect, database: database, schema: schema}
}

func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *Connection) Dialect() Dialect {
	return c.dialect
}

func (c *Connection) Database() string {
	return c.database
}

func (c *Connection) Schema() string {
	return c.schema
}

// Close releases the connection. Calling it more than once is harmless.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if err := c.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			c.closeErr = fmt.Errorf("close %s warehouse: %w", c.dialect.Name(), err)
		}
	})
	return c.closeErr
}
