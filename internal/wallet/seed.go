package wallet

import (
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// SeedSize is the BIP-39 seed length in bytes.
const SeedSize = 64

// SeedFromMnemonic stretches mnemonic and passphrase into a BIP-39 seed.
// Runs of whitespace between words are collapsed first, so a mnemonic
// pasted with line breaks yields the same seed as its canonical form.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	words := strings.Fields(mnemonic)
	if !ValidateWords(words) {
		return nil, ErrInvalidMnemonic
	}
	// ValidateWords has checked the checksum.
	return bip39.NewSeed(strings.Join(words, " "), passphrase), nil
}
