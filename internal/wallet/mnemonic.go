// Package wallet implements BIP-39 mnemonics, BIP-32 key derivation and the
// wallet records produced for each derived Ethereum address.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"github.com/tyler-smith/go-bip39/wordlists"
)

// Supported mnemonic lengths and their entropy sizes.
const (
	WordCount12 = 12
	WordCount24 = 24

	entropyBits12 = 128
	entropyBits24 = 256
)

// DictionarySize is the number of words in the BIP-39 dictionary.
const DictionarySize = 2048

// ErrInvalidMnemonic is returned when a mnemonic fails BIP-39 validation.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// wordIndex maps each dictionary word to its 11-bit value.
var wordIndex = func() map[string]int {
	m := make(map[string]int, len(wordlists.English))
	for i, w := range wordlists.English {
		m[w] = i
	}
	return m
}()

// EntropyBits returns the entropy size for a supported word count.
func EntropyBits(wordCount int) (int, error) {
	switch wordCount {
	case WordCount12:
		return entropyBits12, nil
	case WordCount24:
		return entropyBits24, nil
	}
	return 0, fmt.Errorf("unsupported word count %d (want %d or %d)", wordCount, WordCount12, WordCount24)
}

// GenerateMnemonic creates a new random BIP-39 mnemonic with 12 or 24 words.
func GenerateMnemonic(wordCount int) (string, error) {
	bits, err := EntropyBits(wordCount)
	if err != nil {
		return "", err
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return MnemonicFromEntropy(entropy)
}

// MnemonicFromEntropy encodes 16 or 32 bytes of entropy as a mnemonic.
func MnemonicFromEntropy(entropy []byte) (string, error) {
	if len(entropy)*8 != entropyBits12 && len(entropy)*8 != entropyBits24 {
		return "", fmt.Errorf("entropy must be 16 or 32 bytes, got %d", len(entropy))
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39 and has
// 12 or 24 words.
func ValidateMnemonic(mnemonic string) bool {
	return ValidateWords(strings.Fields(mnemonic))
}

// ValidateWords checks word count, dictionary membership and checksum.
// It never panics.
func ValidateWords(words []string) bool {
	if len(words) != WordCount12 && len(words) != WordCount24 {
		return false
	}
	for _, w := range words {
		if _, ok := wordIndex[w]; !ok {
			return false
		}
	}
	return bip39.IsMnemonicValid(strings.Join(words, " "))
}

// Wordlist returns a copy of the English BIP-39 dictionary.
func Wordlist() []string {
	return append([]string(nil), wordlists.English...)
}

// Word returns the dictionary word for an 11-bit index.
func Word(i int) string {
	return wordlists.English[i]
}

// WordIndex returns the dictionary index of word.
func WordIndex(word string) (int, bool) {
	i, ok := wordIndex[word]
	return i, ok
}

// IsWord reports whether word is in the dictionary.
func IsWord(word string) bool {
	_, ok := wordIndex[word]
	return ok
}

// NormalizeMnemonic lowercases and collapses whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}
