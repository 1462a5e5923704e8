package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Klingon-tech/walletscan/internal/log"
	"github.com/dgraph-io/badger/v4"
)

// Sizes for a small store of short values.
const (
	badgerMemTableSize    = 8 << 20
	badgerValueLogSize    = 16 << 20
	badgerValueThreshold  = 4 << 10
	badgerNumVersionsKept = 1
)

// BadgerDB implements DB using Badger.
type BadgerDB struct {
	db   *badger.DB
	path string
}

// NewBadger opens or creates a Badger database in the directory path.
func NewBadger(path string) (*BadgerDB, error) {
	return openBadger(badgerOptions(badger.DefaultOptions(path)), path)
}

// NewBadgerInMemory creates a Badger database that never touches disk.
func NewBadgerInMemory() (*BadgerDB, error) {
	return openBadger(badgerOptions(badger.DefaultOptions("").WithInMemory(true)), "memory")
}

func badgerOptions(opts badger.Options) badger.Options {
	return opts.
		WithLogger(badgerLogger{}).
		WithMemTableSize(badgerMemTableSize).
		WithValueLogFileSize(badgerValueLogSize).
		WithValueThreshold(badgerValueThreshold).
		WithNumVersionsToKeep(badgerNumVersionsKept).
		WithCompactL0OnClose(true)
}

func openBadger(opts badger.Options, path string) (*BadgerDB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot acquire directory lock") ||
			strings.Contains(msg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("hit store at %s is locked by another process (is walletscand running?): %w", path, err)
		}
		return nil, fmt.Errorf("open hit store at %s: %w", path, err)
	}
	return &BadgerDB{db: db, path: path}, nil
}

// Path returns the database directory, or "memory".
func (b *BadgerDB) Path() string {
	return b.path
}

// Get returns the value for key, or ErrNotFound.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// Put stores value under key.
func (b *BadgerDB) Put(key, value []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Set(key, value) }); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *BadgerDB) Delete(key []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Has reports whether key exists.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ForEach calls fn for every key under prefix in key order. Keys are
// iterated without prefetching since values are read one at a time.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger value: %w", err)
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropPrefix deletes every key under prefix.
func (b *BadgerDB) DropPrefix(prefix []byte) error {
	if err := b.db.DropPrefix(prefix); err != nil {
		return fmt.Errorf("badger drop prefix: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// badgerLogger forwards badger's messages to the storage logger, one
// level lower than badger reports them for info and debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{}) {
	log.Storage.Error().Msgf(strings.TrimSpace(f), args...)
}

func (badgerLogger) Warningf(f string, args ...interface{}) {
	log.Storage.Warn().Msgf(strings.TrimSpace(f), args...)
}

func (badgerLogger) Infof(f string, args ...interface{}) {
	log.Storage.Debug().Msgf(strings.TrimSpace(f), args...)
}

func (badgerLogger) Debugf(f string, args ...interface{}) {
	log.Storage.Trace().Msgf(strings.TrimSpace(f), args...)
}
