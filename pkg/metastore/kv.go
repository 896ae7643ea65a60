// Package metastore provides the durable key-value backend holding cluster
// and catalog metadata, kept separate from user data storage.
package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/engramdb/engram/internal/bytesize"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// KVBackend is the storage contract consumed by the catalog manager, the
// procedure manager, and the frontend. Implementations must be safe for
// concurrent use.
type KVBackend interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Scan calls fn for every key with the given prefix, in key order.
	// Returning an error from fn stops the scan and propagates the error.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// Close releases the backend. No calls may follow Close.
	Close() error
}

// Config describes the metadata KV backend.
type Config struct {
	// Backend selects the implementation.
	// "badger" (durable, default) or "memory" (volatile; -m flag and tests).
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=badger memory" yaml:"backend"`

	// SyncWrites forces an fsync per write batch.
	// Default: true.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`

	// ValueLogFileSize caps a single value-log segment.
	// Default: 256MB
	ValueLogFileSize bytesize.ByteSize `mapstructure:"value_log_file_size" yaml:"value_log_file_size"`

	// GCInterval is how often the value log garbage collector runs.
	// Default: 10m
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
}

// BackendBadger and BackendMemory are the accepted Config.Backend values.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// DefaultConfig returns the documented metadata-store defaults.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendBadger,
		SyncWrites:       true,
		ValueLogFileSize: 256 * bytesize.MB,
		GCInterval:       10 * time.Minute,
	}
}
