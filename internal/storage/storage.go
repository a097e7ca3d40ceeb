// Package storage is the object store seam: prompt templates, the parquet
// tables a DuckDB warehouse loads at session start, and the demo dataset all
// live behind it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ContentTypeText    = "text/plain; charset=utf-8"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectReader is what a session needs at runtime.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns objects under prefix ordered by key. Keys are relative to
	// the store's own prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectWriter is what the upload and seeding commands need.
type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type ObjectStore interface {
	ObjectReader
	ObjectWriter
}

// ReadSmall reads a whole object that must not exceed limit bytes.
func ReadSmall(ctx context.Context, store ObjectReader, key string, limit int64) ([]byte, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if limit > 0 && info.Size > limit {
		return nil, fmt.Errorf("%w: %q is %d bytes, limit %d", ErrObjectTooLarge, key, info.Size, limit)
	}
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	var body io.Reader = reader
	if limit > 0 {
		body = io.LimitReader(reader, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrObjectTooLarge, key, limit)
	}
	return data, nil
}

// DeletePrefix removes every object under prefix and returns how many were
// deleted. An empty prefix is refused.
func DeletePrefix(ctx context.Context, store ObjectStore, prefix string) (int, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return 0, fmt.Errorf("refusing to delete the store root")
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %q: %w", prefix, err)
	}
	deleted := 0
	for _, object := range objects {
		if err := store.Delete(ctx, object.Key); err != nil {
			return deleted, fmt.Errorf("delete %q: %w", object.Key, err)
		}
		deleted++
	}
	return deleted, nil
}
