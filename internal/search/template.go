// Package search runs a combinatorial search over partially known BIP-39
// mnemonics, looking for a wallet that matches a target address or holds
// a balance.
package search

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Klingon-tech/walletscan/internal/wallet"
)

// Blank marks an unknown word in a template.
const Blank = "_"

// MaxSafeInteger bounds attempt caps and displayed combination counts.
const MaxSafeInteger = 1<<53 - 1

var (
	// ErrInvalidTemplate is returned for a template with the wrong word
	// count, no blanks, or an unknown fixed word.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrChecksumInvalid marks a candidate that fails BIP-39 validation.
	// The search loop retries these silently.
	ErrChecksumInvalid = errors.New("checksum invalid")
)

// Template is a mnemonic with known words in fixed slots and blanks to be
// filled by the search.
type Template struct {
	words  []string // "" at blank slots
	blanks []int
}

// NewTemplate builds a template from word slots. A slot that is empty or
// Blank is unknown. wordCount of 0 accepts len(words) if it is 12 or 24.
func NewTemplate(words []string, wordCount int) (*Template, error) {
	if wordCount == 0 {
		wordCount = len(words)
	}
	if wordCount != wallet.WordCount12 && wordCount != wallet.WordCount24 {
		return nil, fmt.Errorf("%w: word count %d (want %d or %d)",
			ErrInvalidTemplate, wordCount, wallet.WordCount12, wallet.WordCount24)
	}
	if len(words) != wordCount {
		return nil, fmt.Errorf("%w: got %d words, want %d", ErrInvalidTemplate, len(words), wordCount)
	}

	t := &Template{words: make([]string, len(words))}
	var unknown []string
	for i, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || w == Blank {
			t.blanks = append(t.blanks, i)
			continue
		}
		if !wallet.IsWord(w) {
			unknown = append(unknown, fmt.Sprintf("%q at position %d", w, i+1))
			continue
		}
		t.words[i] = w
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown words: %s", ErrInvalidTemplate, strings.Join(unknown, ", "))
	}
	if len(t.blanks) == 0 {
		return nil, fmt.Errorf("%w: no blank words to search", ErrInvalidTemplate)
	}
	return t, nil
}

// ParseTemplate parses a space separated template such as
// "abandon _ abandon ... about".
func ParseTemplate(s string, wordCount int) (*Template, error) {
	return NewTemplate(strings.Fields(s), wordCount)
}

// WordCount returns the number of slots.
func (t *Template) WordCount() int {
	return len(t.words)
}

// Blanks returns the zero-based blank positions in ascending order.
func (t *Template) Blanks() []int {
	return append([]int(nil), t.blanks...)
}

// Words returns the slots with Blank at unknown positions.
func (t *Template) Words() []string {
	out := make([]string, len(t.words))
	for i, w := range t.words {
		if w == "" {
			w = Blank
		}
		out[i] = w
	}
	return out
}

// String returns the template in ParseTemplate form.
func (t *Template) String() string {
	return strings.Join(t.Words(), " ")
}

// Combinations returns the size of the blank search space.
func (t *Template) Combinations() (uint64, bool) {
	return TotalCombinations(len(t.blanks))
}

// fill writes the fixed words and picks into dst.
func (t *Template) fill(dst []string, pick func() int) {
	copy(dst, t.words)
	for _, i := range t.blanks {
		dst[i] = wallet.Word(pick())
	}
}

// completions returns the dictionary indices that complete a template with
// a single blank to a valid mnemonic.
func (t *Template) completions() []int {
	if len(t.blanks) != 1 {
		return nil
	}
	buf := append([]string(nil), t.words...)
	var out []int
	for i := range wallet.DictionarySize {
		buf[t.blanks[0]] = wallet.Word(i)
		if wallet.ValidateWords(buf) {
			out = append(out, i)
		}
	}
	return out
}

// TotalCombinations returns 2048^blanks, capped at MaxSafeInteger. The flag
// reports whether the cap applied.
func TotalCombinations(blanks int) (uint64, bool) {
	if blanks <= 0 {
		return 1, false
	}
	total := new(big.Int).Exp(big.NewInt(wallet.DictionarySize), big.NewInt(int64(blanks)), nil)
	if total.Cmp(big.NewInt(MaxSafeInteger)) > 0 {
		return MaxSafeInteger, true
	}
	return total.Uint64(), false
}
