package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Exchange credentials are stored encrypted with a key derived from
// EXCHANGE_CREDENTIALS_KEY. The wire format is
// base64(salt[16] || nonce[24] || box).

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

var ErrMalformedCiphertext = errors.New("malformed ciphertext")

func deriveKey(passphrase string, salt []byte) (*[keySize]byte, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, err
	}
	var key [keySize]byte
	copy(key[:], derived)
	return &key, nil
}

// EncryptString seals a secret with the configured credentials key.
func EncryptString(plaintext string) (string, error) {
	config := GetConfig()

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key, err := deriveKey(config.ExchangeCRKey, salt)
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString opens a secret sealed by EncryptString.
func DecryptString(ciphertext string) (string, error) {
	config := GetConfig()

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", ErrMalformedCiphertext
	}

	salt := raw[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])

	key, err := deriveKey(config.ExchangeCRKey, salt)
	if err != nil {
		return "", err
	}

	opened, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", errors.New("failed to decrypt: wrong key or corrupted data")
	}
	return string(opened), nil
}
