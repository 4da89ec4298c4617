// Package mediatorcrypto implements the symmetric encryption of envelopes
// reflected through the mediator, and the derivation of the device group
// keys shared by all devices of one identity.
package mediatorcrypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DeviceGroupKeyLen is the length of the root device group key and of every
// key derived from it.
const DeviceGroupKeyLen = 32

// ErrKeysMissing is returned by every operation that needs device group
// keys when multi-device was never activated on this install.
var ErrKeysMissing = errors.New("mediatorcrypto: device group keys missing (multi-device not activated)")

// Derivation labels. These are part of the protocol: every device in the
// group must derive the same sub-keys from the shared root key.
const (
	keyDerivationSalt     = "mm"
	personalReflectKey    = "3ma-mdev"
	labelReflectKey       = "r."
	labelDeviceInfoKey    = "di."
	labelTransactionScope = "ts."
)

// DeviceGroupKeys holds the sub-keys derived from the device group key at
// multi-device activation. Read-only after derivation; safe for concurrent
// use by any number of encode/decode calls.
type DeviceGroupKeys struct {
	reflect     [DeviceGroupKeyLen]byte
	deviceInfo  [DeviceGroupKeyLen]byte
	transaction [DeviceGroupKeyLen]byte
}

// DeriveDeviceGroupKeys derives the reflect, device-info and transaction
// scope keys from the 32-byte root device group key using keyed BLAKE2b.
func DeriveDeviceGroupKeys(deviceGroupKey []byte) (*DeviceGroupKeys, error) {
	if len(deviceGroupKey) != DeviceGroupKeyLen {
		return nil, fmt.Errorf("mediatorcrypto: device group key must be %d bytes, got %d", DeviceGroupKeyLen, len(deviceGroupKey))
	}
	keys := &DeviceGroupKeys{}
	for _, d := range []struct {
		label string
		out   *[DeviceGroupKeyLen]byte
	}{
		{labelReflectKey, &keys.reflect},
		{labelDeviceInfoKey, &keys.deviceInfo},
		{labelTransactionScope, &keys.transaction},
	} {
		derived, err := deriveKey(deviceGroupKey, d.label)
		if err != nil {
			return nil, err
		}
		copy(d.out[:], derived)
	}
	return keys, nil
}

// deriveKey computes BLAKE2b-256 keyed by the root key over
// salt || personalization || label.
func deriveKey(root []byte, label string) ([]byte, error) {
	h, err := blake2b.New256(root)
	if err != nil {
		return nil, fmt.Errorf("mediatorcrypto: derive %q: %w", label, err)
	}
	h.Write([]byte(keyDerivationSalt))
	h.Write([]byte(personalReflectKey))
	h.Write([]byte(label))
	return h.Sum(nil), nil
}

// ReflectKey returns the key that encrypts reflected envelopes.
func (k *DeviceGroupKeys) ReflectKey() *[DeviceGroupKeyLen]byte {
	return &k.reflect
}

// DeviceInfoKey returns the key that encrypts device info records.
func (k *DeviceGroupKeys) DeviceInfoKey() *[DeviceGroupKeyLen]byte {
	return &k.deviceInfo
}

// TransactionScopeKey returns the key that encrypts transaction scopes
// during mediator lock/unlock sequences.
func (k *DeviceGroupKeys) TransactionScopeKey() *[DeviceGroupKeyLen]byte {
	return &k.transaction
}
