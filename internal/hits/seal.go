package hits

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the Argon2id salt length.
const SaltSize = 32

// A sealed value is header || nonce(24) || ciphertext, where header is
// salt(32) memory(4) iterations(4) parallelism(1), integers little endian.
// The header is authenticated as associated data.
const headerSize = SaltSize + 4 + 4 + 1

// maxSealMemory caps the Argon2id memory, in KiB, accepted from a header.
const maxSealMemory = 4 << 20

// ErrUnseal is returned when sealed data cannot be opened with the password.
var ErrUnseal = errors.New("cannot unseal")

// SealParams are the Argon2id cost parameters. Memory is in KiB.
type SealParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultSealParams costs 64 MiB and three passes per key derivation.
func DefaultSealParams() SealParams {
	return SealParams{Memory: 64 << 10, Iterations: 3, Parallelism: 4}
}

func (p SealParams) valid() bool {
	return p.Iterations > 0 && p.Parallelism > 0 && p.Memory <= maxSealMemory
}

type sealHeader struct {
	salt   [SaltSize]byte
	params SealParams
}

func (h *sealHeader) appendTo(b []byte) []byte {
	b = append(b, h.salt[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.params.Memory)
	b = binary.LittleEndian.AppendUint32(b, h.params.Iterations)
	return append(b, h.params.Parallelism)
}

func parseSealHeader(b []byte) sealHeader {
	var h sealHeader
	copy(h.salt[:], b)
	h.params.Memory = binary.LittleEndian.Uint32(b[SaltSize:])
	h.params.Iterations = binary.LittleEndian.Uint32(b[SaltSize+4:])
	h.params.Parallelism = b[SaltSize+8]
	return h
}

// cipher derives the XChaCha20-Poly1305 key for password under h.
func (h *sealHeader) cipher(password []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(password, h.salt[:], h.params.Iterations, h.params.Memory,
		h.params.Parallelism, chacha20poly1305.KeySize)
	defer subtle.XORBytes(key, key, key)
	return chacha20poly1305.NewX(key)
}

// Seal encrypts data under a key stretched from password with Argon2id.
func Seal(data, password []byte, params SealParams) ([]byte, error) {
	if !params.valid() {
		return nil, fmt.Errorf("seal: bad key parameters %+v", params)
	}
	h := sealHeader{params: params}
	if _, err := rand.Read(h.salt[:]); err != nil {
		return nil, fmt.Errorf("seal salt: %w", err)
	}
	aead, err := h.cipher(password)
	if err != nil {
		return nil, fmt.Errorf("seal cipher: %w", err)
	}

	out := make([]byte, 0, headerSize+chacha20poly1305.NonceSizeX+len(data)+chacha20poly1305.Overhead)
	out = h.appendTo(out)
	nonce := out[headerSize : headerSize+chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	out = out[:headerSize+len(nonce)]
	return aead.Seal(out, nonce, data, out[:headerSize]), nil
}

// Unseal reverses Seal. Any failure, including a wrong password, wraps
// ErrUnseal.
func Unseal(sealed, password []byte) ([]byte, error) {
	const nonceEnd = headerSize + chacha20poly1305.NonceSizeX
	if need := nonceEnd + chacha20poly1305.Overhead; len(sealed) < need {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrUnseal, len(sealed), need)
	}
	h := parseSealHeader(sealed)
	if !h.params.valid() {
		return nil, fmt.Errorf("%w: bad key parameters", ErrUnseal)
	}
	aead, err := h.cipher(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnseal, err)
	}
	plain, err := aead.Open(nil, sealed[headerSize:nonceEnd], sealed[nonceEnd:], sealed[:headerSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnseal, err)
	}
	return plain, nil
}
