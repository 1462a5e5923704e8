package storage

import "bytes"

// PrefixDB is a namespace inside another DB: every key is stored under a
// fixed prefix and the prefix is hidden from callers.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB returns the namespace prefix of inner.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: bytes.Clone(prefix)}
}

// Prefix returns a copy of the namespace prefix.
func (p *PrefixDB) Prefix() []byte {
	return bytes.Clone(p.prefix)
}

func (p *PrefixDB) key(k []byte) []byte {
	return append(bytes.Clone(p.prefix), k...)
}

// Get returns the value stored under k in the namespace.
func (p *PrefixDB) Get(k []byte) ([]byte, error) { return p.inner.Get(p.key(k)) }

// Put stores v under k in the namespace.
func (p *PrefixDB) Put(k, v []byte) error { return p.inner.Put(p.key(k), v) }

// Delete removes k from the namespace.
func (p *PrefixDB) Delete(k []byte) error { return p.inner.Delete(p.key(k)) }

// Has reports whether k exists in the namespace.
func (p *PrefixDB) Has(k []byte) (bool, error) { return p.inner.Has(p.key(k)) }

// ForEach iterates keys under sub within the namespace. fn sees keys
// without the namespace prefix.
func (p *PrefixDB) ForEach(sub []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(p.key(sub), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// DeleteAll empties the namespace. Backends that can drop a key range do
// so directly; otherwise keys are collected first and deleted one by one.
func (p *PrefixDB) DeleteAll() error {
	if d, ok := p.inner.(PrefixDropper); ok {
		return d.DropPrefix(p.prefix)
	}
	var keys [][]byte
	if err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := p.inner.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Close does nothing; the inner DB is closed by its owner.
func (p *PrefixDB) Close() error {
	return nil
}
