package wallet

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trezorSeed = "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"

func TestSeedFromMnemonic_Vectors(t *testing.T) {
	tests := map[string]string{
		"trezor 12 words":      abandonAbout,
		"whitespace collapsed": "  abandon abandon abandon abandon\nabandon abandon abandon abandon\tabandon abandon abandon about ",
	}
	for name, mnemonic := range tests {
		t.Run(name, func(t *testing.T) {
			seed, err := SeedFromMnemonic(mnemonic, "TREZOR")
			require.NoError(t, err)
			require.Len(t, seed, SeedSize)
			assert.Equal(t, trezorSeed, hex.EncodeToString(seed))
		})
	}
}

func TestSeedFromMnemonic_Passphrase(t *testing.T) {
	plain, err := SeedFromMnemonic(abandonAbout, "")
	require.NoError(t, err)
	again, err := SeedFromMnemonic(abandonAbout, "")
	require.NoError(t, err)
	salted, err := SeedFromMnemonic(abandonAbout, "hunter2")
	require.NoError(t, err)

	assert.Equal(t, plain, again, "seed is deterministic")
	assert.NotEqual(t, plain, salted, "passphrase changes the seed")
}

func TestSeedFromMnemonic_Rejects(t *testing.T) {
	for _, m := range []string{
		"",
		"not valid words here",
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", // checksum
		"abandon abandon abandon", // length
	} {
		_, err := SeedFromMnemonic(m, "")
		assert.ErrorIs(t, err, ErrInvalidMnemonic, "mnemonic %q", m)
	}
}
