package mediatorcrypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chatmesh/mediator-go/internal/d2dproto"
)

func testKeys(t *testing.T) *DeviceGroupKeys {
	t.Helper()
	root := bytes.Repeat([]byte{0x42}, DeviceGroupKeyLen)
	keys, err := DeriveDeviceGroupKeys(root)
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func TestDeriveDeviceGroupKeys(t *testing.T) {
	keys := testKeys(t)

	// Sub-keys must differ from each other and be deterministic.
	if bytes.Equal(keys.ReflectKey()[:], keys.DeviceInfoKey()[:]) {
		t.Error("reflect key equals device info key")
	}
	if bytes.Equal(keys.ReflectKey()[:], keys.TransactionScopeKey()[:]) {
		t.Error("reflect key equals transaction scope key")
	}

	again := testKeys(t)
	if !bytes.Equal(keys.ReflectKey()[:], again.ReflectKey()[:]) {
		t.Error("derivation not deterministic")
	}
}

func TestDeriveDeviceGroupKeysBadLength(t *testing.T) {
	if _, err := DeriveDeviceGroupKeys([]byte{1, 2, 3}); err == nil {
		t.Error("short root key accepted")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := testKeys(t)
	plaintext := []byte("reflected envelope payload")

	sealed, err := Encrypt(plaintext, keys.ReflectKey())
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed) != NonceLen+len(plaintext)+Overhead {
		t.Errorf("sealed length = %d, want %d", len(sealed), NonceLen+len(plaintext)+Overhead)
	}

	opened, err := Decrypt(sealed, keys.ReflectKey())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("opened = %q, want %q", opened, plaintext)
	}
}

func TestEncryptFreshNoncePerCall(t *testing.T) {
	keys := testKeys(t)
	a, err := Encrypt([]byte("x"), keys.ReflectKey())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt([]byte("x"), keys.ReflectKey())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a[:NonceLen], b[:NonceLen]) {
		t.Error("nonce repeated across calls")
	}
}

func TestDecryptErrors(t *testing.T) {
	keys := testKeys(t)

	if _, err := Decrypt([]byte{1, 2, 3}, keys.ReflectKey()); !errors.Is(err, ErrShortCiphertext) {
		t.Errorf("short input: got %v, want ErrShortCiphertext", err)
	}

	sealed, err := Encrypt([]byte("payload"), keys.ReflectKey())
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Decrypt(sealed, keys.ReflectKey()); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("tampered input: got %v, want ErrDecryptFailed", err)
	}

	// Wrong key fails authentication.
	other, err := DeriveDeviceGroupKeys(bytes.Repeat([]byte{0x43}, DeviceGroupKeyLen))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff // restore
	if _, err := Decrypt(sealed, other.ReflectKey()); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("wrong key: got %v, want ErrDecryptFailed", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	keys := testKeys(t)
	env := &d2dproto.Envelope{
		DeviceID: 12,
		Content: &d2dproto.OutgoingMessage{
			Conversation: d2dproto.Conversation{Contact: "CONTACT2"},
			MessageID:    1,
			Type:         0x01,
			Body:         []byte("hi"),
		},
	}

	sealed, err := EncryptEnvelope(env, keys)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecryptEnvelope(sealed, keys)
	if err != nil {
		t.Fatal(err)
	}
	om, ok := dec.Content.(*d2dproto.OutgoingMessage)
	if !ok {
		t.Fatalf("content type = %T", dec.Content)
	}
	if om.Conversation.Contact != "CONTACT2" || string(om.Body) != "hi" {
		t.Errorf("decoded envelope = %+v", om)
	}
}

func TestKeysMissing(t *testing.T) {
	env := &d2dproto.Envelope{DeviceID: 1, Content: &d2dproto.SettingsSync{ReadReceiptPolicy: 1}}

	if _, err := EncryptEnvelope(env, nil); !errors.Is(err, ErrKeysMissing) {
		t.Errorf("encrypt: got %v, want ErrKeysMissing", err)
	}
	if _, err := DecryptEnvelope([]byte("whatever"), nil); !errors.Is(err, ErrKeysMissing) {
		t.Errorf("decrypt: got %v, want ErrKeysMissing", err)
	}
	if _, err := Encrypt([]byte("x"), nil); !errors.Is(err, ErrKeysMissing) {
		t.Errorf("raw encrypt: got %v, want ErrKeysMissing", err)
	}
}
