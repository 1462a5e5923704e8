package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressSize is the length of an address in bytes.
const AddressSize = common.AddressLength

// Address is a 160-bit Ethereum account address. It converts freely to
// go-ethereum's common.Address.
type Address [AddressSize]byte

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// String returns the lowercase 0x-prefixed form used for comparison and
// as the wire format.
func (a Address) String() string { return hexutil.Encode(a[:]) }

// Checksum returns the EIP-55 mixed-case form used for display.
func (a Address) Checksum() string { return common.Address(a).Hex() }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty text decodes
// to the zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a 0x-prefixed address of 40 hex characters. Case is
// ignored, and the EIP-55 checksum is not enforced.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address %q: want %d bytes, got %d", s, AddressSize, len(b))
	}
	return Address(b), nil
}
