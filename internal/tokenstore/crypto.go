package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// sealer encrypts/decrypts the cached tokens at rest with AES-256-GCM
// under a single active key: the bridge never needs key rotation, it
// only ever holds one installation's refresh token.
type sealer struct {
	key []byte // 32 bytes, or nil when at-rest encryption is disabled
}

// newSealer parses a hex-encoded 32-byte key. An empty keyHex disables
// encryption and seal/open become the identity function, for local
// development without TOKENSTORE_SECRET_KEY set.
func newSealer(keyHex string) (*sealer, error) {
	if keyHex == "" {
		return &sealer{}, nil
	}
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("tokenstore: TOKENSTORE_SECRET_KEY must be 32 bytes (64 hex characters)")
	}
	key := make([]byte, 32)
	n, err := hex.Decode(key, []byte(keyHex))
	if err != nil {
		return nil, fmt.Errorf("tokenstore: invalid TOKENSTORE_SECRET_KEY: %w", err)
	}
	if n != 32 {
		return nil, fmt.Errorf("tokenstore: TOKENSTORE_SECRET_KEY decoded to %d bytes, expected 32", n)
	}
	return &sealer{key: key}, nil
}

func (s *sealer) seal(plaintext string) (string, error) {
	if s.key == nil {
		return plaintext, nil
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("tokenstore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("tokenstore: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("tokenstore: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *sealer) open(stored string) (string, error) {
	if s.key == nil {
		return stored, nil
	}
	if stored == "" {
		return "", nil
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("tokenstore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("tokenstore: new gcm: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("tokenstore: invalid base64: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("tokenstore: ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("tokenstore: decryption failed: %w", err)
	}
	return string(plaintext), nil
}
