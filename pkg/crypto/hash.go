// Package crypto provides the hashing and key primitives used for wallet
// derivation: BLAKE3 for content ids, Keccak-256 and secp256k1 for
// Ethereum addresses.
package crypto

import (
	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// ContentID is the BLAKE3-256 digest of the concatenated parts. Callers
// that hash several variable-length fields separate them themselves.
func ContentID(parts ...[]byte) types.Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var id types.Hash
	h.Digest().Read(id[:])
	return id
}

// Keccak256 is the pre-standard Keccak-256 used by Ethereum, not SHA3-256.
func Keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
