// Package types defines the primitive value types shared by the wallet,
// search and storage packages.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HashSize is the length of a hash in bytes.
const HashSize = 32

// Hash is a 256-bit digest. Hit ids are hashes and travel as bare
// lowercase hex in JSON, storage listings and the CLI.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns h as 64 lowercase hex characters without a prefix.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(HashSize))
	hex.Encode(out, h[:])
	return out, nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text decodes
// to the zero hash.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = Hash{}
		return nil
	}
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes 64 hex characters, with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*HashSize {
		return Hash{}, fmt.Errorf("hash %q: want %d hex characters, got %d", s, 2*HashSize, len(raw))
	}
	var h Hash
	if _, err := hex.Decode(h[:], []byte(raw)); err != nil {
		return Hash{}, fmt.Errorf("hash %q: %w", s, err)
	}
	return h, nil
}
