// Package hits persists wallets found by searches.
package hits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/walletscan/internal/search"
	"github.com/Klingon-tech/walletscan/internal/storage"
	"github.com/Klingon-tech/walletscan/pkg/crypto"
	"github.com/Klingon-tech/walletscan/pkg/types"
)

var prefixHit = []byte("h/") // h/<id(32)> -> Hit JSON, optionally sealed

// sealedTag marks a sealed value. Plain values are JSON objects.
const sealedTag byte = 0x01

// ErrSealed is returned when reading a sealed hit without a password.
var ErrSealed = errors.New("hit is sealed")

// Entry pairs a hit with its id.
type Entry struct {
	ID types.Hash `json:"id"`
	search.Hit
}

// Store persists hits keyed by the hash of mnemonic, passphrase and path,
// so the same wallet found twice is stored once.
type Store struct {
	db       *storage.PrefixDB
	password []byte
	params   SealParams
}

// Option configures a Store.
type Option func(*Store)

// WithPassword seals every stored hit with password.
func WithPassword(password string, params SealParams) Option {
	return func(s *Store) {
		if password != "" {
			s.password = []byte(password)
			s.params = params
		}
	}
}

// NewStore creates a hit store over db.
func NewStore(db storage.DB, opts ...Option) *Store {
	s := &Store{db: storage.NewPrefixDB(db, prefixHit)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HitID returns the storage id of a hit. Neither mnemonic nor path holds a
// NUL byte, so the parts stay separable; without a passphrase the id is
// that of mnemonic and path alone.
func HitID(mnemonic, passphrase, path string) types.Hash {
	if passphrase == "" {
		return crypto.ContentID([]byte(mnemonic), []byte{0}, []byte(path))
	}
	return crypto.ContentID([]byte(mnemonic), []byte{0}, []byte(path), []byte{0}, []byte(passphrase))
}

// SaveHit implements search.HitSink.
func (s *Store) SaveHit(_ context.Context, hit search.Hit) error {
	_, err := s.Put(hit)
	return err
}

// Put stores hit and returns its id. Storing the same wallet again
// replaces the earlier entry.
func (s *Store) Put(hit search.Hit) (types.Hash, error) {
	id := HitID(hit.Mnemonic, hit.Passphrase, hit.Path)
	data, err := json.Marshal(hit)
	if err != nil {
		return id, fmt.Errorf("hit marshal: %w", err)
	}
	if s.password != nil {
		sealed, err := Seal(data, s.password, s.params)
		if err != nil {
			return id, fmt.Errorf("hit seal: %w", err)
		}
		data = append([]byte{sealedTag}, sealed...)
	}
	if err := s.db.Put(id[:], data); err != nil {
		return id, fmt.Errorf("hit put: %w", err)
	}
	return id, nil
}

// Get retrieves a hit by id.
func (s *Store) Get(id types.Hash) (*search.Hit, error) {
	data, err := s.db.Get(id[:])
	if err != nil {
		return nil, fmt.Errorf("hit get: %w", err)
	}
	return s.decode(data)
}

// Has checks if a hit exists.
func (s *Store) Has(id types.Hash) (bool, error) {
	return s.db.Has(id[:])
}

// Delete removes a hit.
func (s *Store) Delete(id types.Hash) error {
	return s.db.Delete(id[:])
}

func (s *Store) decode(data []byte) (*search.Hit, error) {
	if len(data) > 0 && data[0] == sealedTag {
		if s.password == nil {
			return nil, ErrSealed
		}
		plain, err := Unseal(data[1:], s.password)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	var hit search.Hit
	if err := json.Unmarshal(data, &hit); err != nil {
		return nil, fmt.Errorf("hit unmarshal: %w", err)
	}
	return &hit, nil
}

// ForEach iterates over all readable hits. Entries that cannot be decoded
// are skipped. Return a non-nil error from fn to stop iteration early.
func (s *Store) ForEach(fn func(types.Hash, *search.Hit) error) error {
	return s.db.ForEach(nil, func(key, value []byte) error {
		if len(key) != types.HashSize {
			return nil
		}
		var id types.Hash
		copy(id[:], key)

		hit, err := s.decode(value)
		if err != nil {
			return nil
		}
		return fn(id, hit)
	})
}

// List returns all hits, most recent first.
func (s *Store) List() ([]Entry, error) {
	entries := []Entry{}
	err := s.ForEach(func(id types.Hash, hit *search.Hit) error {
		entries = append(entries, Entry{ID: id, Hit: *hit})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FoundAt.After(entries[j].FoundAt)
	})
	return entries, nil
}

// Clear removes every hit.
func (s *Store) Clear() error {
	return s.db.DeleteAll()
}
