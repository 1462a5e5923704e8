package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainDB hides DropPrefix so PrefixDB takes the key-by-key path.
type plainDB struct{ DB }

func backends(t *testing.T) map[string]DB {
	t.Helper()
	bdb, err := NewBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	return map[string]DB{
		"memory": NewMemory(),
		"badger": bdb,
		"plain":  plainDB{NewMemory()},
	}
}

func TestPrefixDB_Namespace(t *testing.T) {
	for name, inner := range backends(t) {
		t.Run(name, func(t *testing.T) {
			hitsNS := NewPrefixDB(inner, []byte("h/"))
			metaNS := NewPrefixDB(inner, []byte("m/"))

			require.NoError(t, hitsNS.Put([]byte("id"), []byte("sealed")))
			require.NoError(t, metaNS.Put([]byte("id"), []byte("salt")))

			got, err := inner.Get([]byte("h/id"))
			require.NoError(t, err)
			assert.Equal(t, "sealed", string(got))
			got, err = metaNS.Get([]byte("id"))
			require.NoError(t, err)
			assert.Equal(t, "salt", string(got))

			require.NoError(t, hitsNS.Delete([]byte("id")))
			ok, _ := hitsNS.Has([]byte("id"))
			assert.False(t, ok, "Has() after Delete")
			ok, _ = metaNS.Has([]byte("id"))
			assert.True(t, ok, "Delete in one namespace removed a key in another")
			_, err = hitsNS.Get([]byte("id"))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPrefixDB_ForEach(t *testing.T) {
	for name, inner := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ns := NewPrefixDB(inner, []byte("h/"))
			inner.Put([]byte("hx"), []byte("outside"))
			for _, k := range []string{"b2", "a1", "b1"} {
				ns.Put([]byte(k), []byte("v"+k))
			}

			var keys []string
			err := ns.ForEach(nil, func(key, value []byte) error {
				assert.Equal(t, "v"+string(key), string(value))
				keys = append(keys, string(key))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a1", "b1", "b2"}, keys)

			keys = nil
			ns.ForEach([]byte("b"), func(key, _ []byte) error {
				keys = append(keys, string(key))
				return nil
			})
			assert.Equal(t, []string{"b1", "b2"}, keys)

			stop := errors.New("stop")
			n := 0
			err = ns.ForEach(nil, func(_, _ []byte) error {
				n++
				return stop
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 1, n, "ForEach kept going after an error")
		})
	}
}

func TestPrefixDB_DeleteAll(t *testing.T) {
	for name, inner := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ns := NewPrefixDB(inner, []byte("h/"))
			for _, k := range []string{"1", "2", "3"} {
				ns.Put([]byte(k), []byte(k))
			}
			inner.Put([]byte("other"), []byte("kept"))

			require.NoError(t, ns.DeleteAll())
			n := 0
			ns.ForEach(nil, func(_, _ []byte) error { n++; return nil })
			assert.Zero(t, n, "keys left after DeleteAll")
			ok, _ := inner.Has([]byte("other"))
			assert.True(t, ok, "DeleteAll removed a key outside the namespace")

			// Emptying an empty namespace is fine.
			assert.NoError(t, ns.DeleteAll())
		})
	}
}

func TestPrefixDB_PrefixIsCopied(t *testing.T) {
	prefix := []byte("h/")
	ns := NewPrefixDB(NewMemory(), prefix)
	prefix[0] = 'x'

	assert.Equal(t, "h/", string(ns.Prefix()))
	ns.Prefix()[0] = 'y'
	assert.Equal(t, "h/", string(ns.Prefix()), "mutated through returned slice")
}

func TestPrefixDB_CloseLeavesInnerOpen(t *testing.T) {
	inner := NewMemory()
	ns := NewPrefixDB(inner, []byte("h/"))
	require.NoError(t, ns.Close())
	require.NoError(t, ns.Put([]byte("k"), []byte("v")), "Put() after Close")
	ok, _ := inner.Has([]byte("h/k"))
	assert.True(t, ok, "inner DB lost write after namespace Close")
}
