// Package kvstore provides the durable key-value store backing the local
// cache and the operation queue.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// Store is a durable string-keyed byte store. Implementations are safe for
// concurrent use. Single calls are atomic; callers that read, modify and
// write a key hold a lock from the embedded Locker, which also excludes
// other processes opening the same store.
type Store interface {
	Locker
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes value under key; the write is durable when Set returns.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Open opens the store for the configured driver. For the file driver path
// is a directory; for sqlite it is the database file.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(path)
	case DriverSQLite:
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("%w %q (want %q or %q)", ErrUnknownDriver, driver, DriverFile, DriverSQLite)
}
