package wallet

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Klingon-tech/walletscan/internal/hdpath"
	"github.com/Klingon-tech/walletscan/pkg/crypto"
	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// ErrDerivation is returned when a key cannot be derived along a path:
// an out-of-range index, a hardened step from a public key, or the
// negligible-probability invalid child key.
var ErrDerivation = errors.New("derivation error")

// HDKey is a BIP-32 node together with the path that led to it from the
// master key.
type HDKey struct {
	key  *bip32.Key
	path hdpath.Path
}

// NewMasterKey returns the BIP-32 root for a 64-byte BIP-39 seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %w", ErrDerivation, err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild steps one level down. Hardened indices start at
// hdpath.HardenedStart.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d: %w", ErrDerivation, k.path, index, err)
	}
	return &HDKey{key: child, path: append(slices.Clip(k.path), index)}, nil
}

// DerivePath steps down through each index in turn.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	node := k
	for _, i := range indices {
		next, err := node.DeriveChild(i)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}

// DeriveTemplate derives tmpl resolved at index and returns the key with
// the concrete path.
func (k *HDKey) DeriveTemplate(tmpl *hdpath.Template, index uint32) (*HDKey, hdpath.Path, error) {
	path, err := tmpl.Resolve(index)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	key, err := k.DerivePath(path...)
	if err != nil {
		return nil, nil, err
	}
	return key, path, nil
}

// Path returns the indices from the master key, empty for the master.
func (k *HDKey) Path() hdpath.Path { return slices.Clone(k.path) }

// PrivateKeyBytes returns the 32-byte secp256k1 scalar, or nil for a
// public-only node.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	raw := k.key.Key
	// go-bip32 may keep private keys as 33 bytes with a zero pad.
	if len(raw) == crypto.PrivateKeySize+1 && raw[0] == 0 {
		raw = raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the 33-byte compressed public key.
func (k *HDKey) PublicKeyBytes() []byte {
	if !k.key.IsPrivate {
		return k.key.Key
	}
	return k.key.PublicKey().Key
}

// Address returns the Ethereum account of this node.
func (k *HDKey) Address() (types.Address, error) {
	pub, err := crypto.DecompressPubKey(k.PublicKeyBytes())
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	return crypto.AddressFromPubKey(pub)
}

// IsPrivate reports whether the node holds its private key.
func (k *HDKey) IsPrivate() bool { return k.key.IsPrivate }

// Depth is the number of derivation steps from the master key.
func (k *HDKey) Depth() uint8 { return k.key.Depth }

// Neuter drops the private key. The result can derive only non-hardened
// children.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey(), path: slices.Clone(k.path)}
}
