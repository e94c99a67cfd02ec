package ccvfs

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Built-in "xor" encryptor
// ───────────────────────────────────────────────────────────────────────────
//
// A key-cycling XOR cipher. Not cryptographically meaningful; it exists as
// the always-available built-in, symmetrical with the "rle" compressor. No nonce, no authentication tag: ciphertext length equals
// plaintext length, which is why MaxCiphertextSize is the identity.

type xorCipher struct{}

func newXORCipher() Encryptor { return xorCipher{} }

func (xorCipher) KeyLen() int { return 8 }

func (xorCipher) MaxCiphertextSize(srcLen int) int { return srcLen }

func (xorCipher) Encrypt(dst, src, key []byte) (int, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("xor encrypt: %w", ErrKeyRequired)
	}
	if len(dst) < len(src) {
		return 0, fmt.Errorf("xor encrypt: dst too small: %w", ErrMisuse)
	}
	for i := range src {
		dst[i] = src[i] ^ key[i%len(key)]
	}
	return len(src), nil
}

func (xorCipher) Decrypt(dst, src, key []byte) (int, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("xor decrypt: %w", ErrKeyRequired)
	}
	if len(dst) < len(src) {
		return 0, fmt.Errorf("xor decrypt: dst too small: %w", ErrMisuse)
	}
	for i := range src {
		dst[i] = src[i] ^ key[i%len(key)]
	}
	return len(src), nil
}
