package mediatorcrypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/chatmesh/mediator-go/internal/d2dproto"
)

// NonceLen is the length of the random nonce prefixed to every ciphertext.
const NonceLen = 24

// Overhead is the authentication tag overhead added by the cipher.
const Overhead = secretbox.Overhead

var (
	// ErrShortCiphertext is returned when the input cannot even contain a
	// nonce and an authentication tag.
	ErrShortCiphertext = errors.New("mediatorcrypto: ciphertext shorter than nonce plus overhead")

	// ErrDecryptFailed is returned when authentication fails. For
	// connection-level data this forces a session teardown, since it means
	// the device group keys diverged.
	ErrDecryptFailed = errors.New("mediatorcrypto: decryption failed")
)

// Encrypt seals plaintext with XSalsa20-Poly1305 under key and returns
// nonce ++ ciphertext. A fresh random nonce is generated per call; failure
// to read randomness is a hard error, never a fallback nonce.
func Encrypt(plaintext []byte, key *[DeviceGroupKeyLen]byte) ([]byte, error) {
	if key == nil {
		return nil, ErrKeysMissing
	}
	var nonce [NonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("mediatorcrypto: generate nonce: %w", err)
	}
	out := make([]byte, NonceLen, NonceLen+len(plaintext)+Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, key), nil
}

// Decrypt splits the 24-byte nonce off data and opens the remainder.
func Decrypt(data []byte, key *[DeviceGroupKeyLen]byte) ([]byte, error) {
	if key == nil {
		return nil, ErrKeysMissing
	}
	if len(data) < NonceLen+Overhead {
		return nil, ErrShortCiphertext
	}
	var nonce [NonceLen]byte
	copy(nonce[:], data[:NonceLen])
	plaintext, ok := secretbox.Open(nil, data[NonceLen:], &nonce, key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptEnvelope serializes env and seals it with the device group reflect
// key. Returns ErrKeysMissing when multi-device was never activated.
func EncryptEnvelope(env *d2dproto.Envelope, keys *DeviceGroupKeys) ([]byte, error) {
	if keys == nil {
		return nil, ErrKeysMissing
	}
	raw, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("mediatorcrypto: marshal envelope: %w", err)
	}
	return Encrypt(raw, keys.ReflectKey())
}

// DecryptEnvelope opens data with the device group reflect key and parses
// the contained envelope.
func DecryptEnvelope(data []byte, keys *DeviceGroupKeys) (*d2dproto.Envelope, error) {
	if keys == nil {
		return nil, ErrKeysMissing
	}
	raw, err := Decrypt(data, keys.ReflectKey())
	if err != nil {
		return nil, err
	}
	env := new(d2dproto.Envelope)
	if err := env.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("mediatorcrypto: unmarshal envelope: %w", err)
	}
	return env, nil
}
