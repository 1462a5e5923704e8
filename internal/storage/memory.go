package storage

import (
	"bytes"
	"slices"
	"strings"
	"sync"
)

// MemoryDB is a map-backed DB for tests and for daemons run with the
// memory backend, where hits do not survive a restart. It is safe for
// concurrent use. Stored and returned values never alias caller slices.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty MemoryDB.
func NewMemory() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.data[string(key)]; ok {
		return bytes.Clone(v), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryDB) Put(key, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	m.mu.Lock()
	m.data[string(key)] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	_, ok := m.data[string(key)]
	m.mu.RUnlock()
	return ok, nil
}

// ForEach visits keys under prefix in byte order over a snapshot taken
// up front, so fn may write to the DB.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	type kv struct {
		k string
		v []byte
	}
	p := string(prefix)
	m.mu.RLock()
	snap := make([]kv, 0, len(m.data))
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			snap = append(snap, kv{k, bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(snap, func(a, b kv) int { return strings.Compare(a.k, b.k) })
	for _, e := range snap {
		if err := fn([]byte(e.k), e.v); err != nil {
			return err
		}
	}
	return nil
}

// DropPrefix deletes every key under prefix.
func (m *MemoryDB) DropPrefix(prefix []byte) error {
	p := string(prefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			delete(m.data, k)
		}
	}
	return nil
}

// Close is a no-op; the data stays readable.
func (m *MemoryDB) Close() error { return nil }
