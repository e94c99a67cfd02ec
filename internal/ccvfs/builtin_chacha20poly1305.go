package ccvfs

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ───────────────────────────────────────────────────────────────────────────
// Built-in "chacha20poly" encryptor (ChaCha20-Poly1305 AEAD)
// ───────────────────────────────────────────────────────────────────────────
//
// An authenticated cipher for files that want real confidentiality instead
// of the baseline XOR placeholder. Ciphertext is [nonce(12) || sealed data],
// so MaxCiphertextSize adds the nonce length and the AEAD overhead
// (chacha20poly1305.Overhead, 16 bytes) to the plaintext length. A fresh
// random nonce is drawn per call, required for AEAD safety since a given
// key is reused across every page write for the file's lifetime.

type chacha20Poly1305Cipher struct{}

func newChaCha20Poly1305Cipher() Encryptor { return chacha20Poly1305Cipher{} }

func (chacha20Poly1305Cipher) KeyLen() int { return chacha20poly1305.KeySize }

func (chacha20Poly1305Cipher) MaxCiphertextSize(srcLen int) int {
	return chacha20poly1305.NonceSize + srcLen + chacha20poly1305.Overhead
}

func (c chacha20Poly1305Cipher) Encrypt(dst, src, key []byte) (int, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return 0, fmt.Errorf("chacha20poly1305 encrypt: %w", ErrMisuse)
	}
	need := c.MaxCiphertextSize(len(src))
	if len(dst) < need {
		return 0, fmt.Errorf("chacha20poly1305 encrypt: dst too small: %w", ErrMisuse)
	}
	nonce := dst[:chacha20poly1305.NonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return 0, fmt.Errorf("chacha20poly1305 encrypt: %w", err)
	}
	sealed := aead.Seal(dst[chacha20poly1305.NonceSize:chacha20poly1305.NonceSize], nonce, src, nil)
	return chacha20poly1305.NonceSize + len(sealed), nil
}

func (c chacha20Poly1305Cipher) Decrypt(dst, src, key []byte) (int, error) {
	if len(src) < chacha20poly1305.NonceSize {
		return 0, fmt.Errorf("chacha20poly1305 decrypt: %w", ErrCorruptPage)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return 0, fmt.Errorf("chacha20poly1305 decrypt: %w", ErrMisuse)
	}
	nonce := src[:chacha20poly1305.NonceSize]
	ciphertext := src[chacha20poly1305.NonceSize:]
	out, err := aead.Open(dst[:0], nonce, ciphertext, nil)
	if err != nil {
		return 0, fmt.Errorf("chacha20poly1305 decrypt: %w", ErrKeyMismatch)
	}
	return len(out), nil
}
