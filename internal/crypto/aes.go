package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// ErrKeyLength is returned for anything other than a 32-byte AES-256 key.
var ErrKeyLength = errors.New("key length must be 32 bytes")

// Sealer encrypts API key secrets at rest with AES-GCM. The nonce is
// prepended to the ciphertext and the result is base64 encoded.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key string) (*Sealer, error) {
	if len(key) != 32 {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(encoded string) (string, error) {
	enc, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	n := s.aead.NonceSize()
	if len(enc) < n {
		return "", errors.New("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, enc[:n], enc[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
