// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements a key-value store backed by memory, a JSON file,
// SQLite, PostgreSQL or Redis.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Store is a generic interface for a key-value store.
type Store interface {
	// Get retrieves a value for a given key.
	// It must return (nil, nil) if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value for a given key, replacing the previous one.
	Set(ctx context.Context, key string, value []byte) error
	// Close closes the store and releases any resources.
	Close() error
}

// Open opens the store described by dsn:
//
//	mem:                       in-memory store
//	file:/path/to/state.json   JSON file
//	sqlite:/path/to/state.db   SQLite database
//	postgres://...             PostgreSQL database
//	redis://...                Redis server
//
// A dsn without a scheme is treated as a path to a JSON file.
func Open(ctx context.Context, dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, ":")
	if !ok || strings.ContainsAny(scheme, `/\.`) {
		return NewJSONFile(dsn)
	}

	switch scheme {
	case "mem", "memory":
		return NewMemStore(), nil
	case "file":
		return NewJSONFile(rest)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, rest)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn)
	case "redis", "rediss":
		return NewRedisStore(ctx, dsn)
	}
	return nil, fmt.Errorf("store: unsupported scheme %q", scheme)
}
