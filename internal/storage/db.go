// Package storage provides the key-value abstraction used to persist
// found wallets.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in key order.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// PrefixDropper is implemented by backends that delete a key range in one
// operation.
type PrefixDropper interface {
	DropPrefix(prefix []byte) error
}

// Open returns a DB for the named backend. path is ignored for memory.
func Open(backend, path string) (DB, error) {
	switch backend {
	case BackendBadger, "":
		return NewBadger(path)
	case BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
