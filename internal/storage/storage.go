// Package storage provides the key/value blob stores the history and profile
// are persisted to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been written
var ErrNotFound = errors.New("key not found")

// KeyValueStore gets and sets serialized blobs by key.
//
// Set must replace the value atomically: a concurrent Get observes either the
// previous value or the new one, never a partial write.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Backend  string // file, bolt, sqlite, redis, memory
	Path     string // directory for file, database file for bolt/sqlite
	RedisURL string
}

// Open creates the configured backend
func Open(opts Options) (KeyValueStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "file":
		return NewFileStore(opts.Path)
	case "bolt":
		return OpenBolt(opts.Path)
	case "sqlite":
		return OpenSQLite(opts.Path)
	case "redis":
		return OpenRedis(opts.RedisURL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
