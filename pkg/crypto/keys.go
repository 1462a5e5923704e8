package crypto

import (
	"fmt"

	"github.com/Klingon-tech/walletscan/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PrivateKeySize is the length of a secp256k1 private scalar.
const PrivateKeySize = 32

// UncompressedPubKeySize is the length of a 0x04-prefixed public key.
const UncompressedPubKeySize = 65

// PublicKeyUncompressed returns the 65-byte uncompressed public key for a
// 32-byte private scalar.
func PublicKeyUncompressed(priv []byte) ([]byte, error) {
	if len(priv) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(priv))
	}
	key := secp256k1.PrivKeyFromBytes(priv)
	defer key.Zero()
	return key.PubKey().SerializeUncompressed(), nil
}

// AddressFromPubKey derives an Ethereum address from an uncompressed public key.
// Address = Keccak256(X || Y)[12:].
func AddressFromPubKey(pub []byte) (types.Address, error) {
	if len(pub) != UncompressedPubKeySize || pub[0] != 0x04 {
		return types.Address{}, fmt.Errorf("want %d-byte uncompressed public key", UncompressedPubKeySize)
	}
	h := Keccak256(pub[1:])
	var addr types.Address
	copy(addr[:], h[len(h)-types.AddressSize:])
	return addr, nil
}

// AddressFromPrivateKey derives the address controlled by a private scalar.
func AddressFromPrivateKey(priv []byte) (types.Address, error) {
	pub, err := PublicKeyUncompressed(priv)
	if err != nil {
		return types.Address{}, err
	}
	return AddressFromPubKey(pub)
}

// DecompressPubKey expands a 33-byte compressed public key to its 65-byte form.
func DecompressPubKey(compressed []byte) ([]byte, error) {
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub.SerializeUncompressed(), nil
}
