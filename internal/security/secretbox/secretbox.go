// Package secretbox seals server cart tokens before they are persisted.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/cockroachdb/errors"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

type Box struct {
	aead cipher.AEAD
}

// New builds a box from a base64 encoded 32 byte key.
func New(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, errors.New("missing CART_TOKEN_KEY")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, errors.Wrap(err, "decode CART_TOKEN_KEY")
	}
	if len(key) != 32 {
		return nil, errors.Newf("CART_TOKEN_KEY must decode to 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts a token. The empty token (a disconnected cart) stays empty.
// sessionID is bound as additional data so a sealed token cannot be moved to
// another session row.
func (b *Box) Seal(token, sessionID string) (string, error) {
	if token == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}
	out := b.aead.Seal(nonce, nonce, []byte(token), []byte(sessionID))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (b *Box) Open(sealed, sessionID string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "decode sealed token"), ErrInvalidCiphertext)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, ciphertext := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, []byte(sessionID))
	if err != nil {
		return "", errors.Mark(err, ErrInvalidCiphertext)
	}
	return string(plaintext), nil
}
