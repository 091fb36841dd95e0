package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"

	"github.com/sumanthd032/relaychat/pkg/errs"
)

const KeySize = 32 // Size of the AES-256 key and the maximum key material (32 bytes / 256 bits)

// NewAESGCM creates a new AES-GCM cipher instance from a 32-byte key.
func NewAESGCM(key *[KeySize]byte) (cipher.AEAD, error) {
	// Create a new AES cipher block from the key. AES-256 is used because our key is 32 bytes.
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("could not create new aes cipher: %w", err)
	}

	// Wrap the AES block in GCM mode.
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("could not create new gcm cipher: %w", err)
	}

	return aead, nil
}

// Cipher holds at most one active message key for a chat session.
// It is safe for concurrent use.
type Cipher struct {
	mu   sync.RWMutex
	aead cipher.AEAD
}

// NewCipher returns a Cipher with no key set.
func NewCipher() *Cipher {
	return new(Cipher)
}

// SetKey derives the message key from at most KeySize bytes of material and
// makes it the active key.
func (c *Cipher) SetKey(material []byte) error {
	if len(material) == 0 {
		return fmt.Errorf("%w: key material can't be empty", errs.ErrInvalidArgument)
	}
	if len(material) > KeySize {
		return fmt.Errorf("%w: key material can't be more than %d bytes long", errs.ErrInvalidArgument, KeySize)
	}

	key, err := DeriveKey(material)
	if err != nil {
		return fmt.Errorf("%w: could not derive key: %w", errs.ErrCryptoFailure, err)
	}
	aead, err := NewAESGCM(key)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrCryptoFailure, err)
	}

	c.mu.Lock()
	c.aead = aead
	c.mu.Unlock()
	return nil
}

// ClearKey discards the active key.
func (c *Cipher) ClearKey() {
	c.mu.Lock()
	c.aead = nil
	c.mu.Unlock()
}

// HasKey reports whether a key is set.
func (c *Cipher) HasKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aead != nil
}

// Encrypt seals plaintext under the active key and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	if aead == nil {
		return "", fmt.Errorf("%w: no encryption key has been set", errs.ErrInvalidState)
	}
	if plaintext == nil {
		return "", fmt.Errorf("%w: message to encrypt can't be nil", errs.ErrInvalidArgument)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: could not generate nonce: %w", errs.ErrCryptoFailure, err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered input or a different key yields ErrCryptoFailure.
func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	if aead == nil {
		return nil, fmt.Errorf("%w: no encryption key has been set", errs.ErrInvalidState)
	}
	if ciphertext == "" {
		return nil, fmt.Errorf("%w: message to decrypt can't be empty", errs.ErrInvalidArgument)
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext: %w", errs.ErrCryptoFailure, err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", errs.ErrCryptoFailure)
	}

	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open message: %w", errs.ErrCryptoFailure, err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Hash returns the SHA-256 digest of the big-endian magnitude bytes of v.
func Hash(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: number to hash can't be nil", errs.ErrInvalidArgument)
	}
	digest := sha256.Sum256(v.Bytes())
	return digest[:], nil
}
