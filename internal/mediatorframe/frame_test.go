package mediatorframe

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestIsMediatorFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want bool
	}{
		{"reflect", []byte{0x80, 0x00, 0x00, 0x00, 0xaa, 0xbb}, true},
		{"proxy", []byte{0x00, 0x00, 0x00, 0x00, 0xaa, 0xbb}, false},
		{"short", []byte{0x80, 0x00, 0x00}, false},
		{"reserved byte set", []byte{0x80, 0x01, 0x00, 0x00}, false},
		{"server hello", []byte{0x10, 0x00, 0x00, 0x00}, true},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMediatorFrame(tt.raw); got != tt.want {
				t.Errorf("IsMediatorFrame(% x) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEncodeCommonHeader(t *testing.T) {
	got := EncodeCommonHeader(TypeReflect)
	want := []byte{0x80, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeCommonHeader(reflect) = % x, want % x", got, want)
	}
}

func TestReflectRoundTrip(t *testing.T) {
	envelope := []byte("twenty-four-byte-nonce..and ciphertext")
	frame := EncodeReflect(envelope, 0xdeadbeef)

	if !IsMediatorFrame(frame) {
		t.Fatal("reflect frame not detected as mediator frame")
	}
	if Type(frame[0]) != TypeReflect {
		t.Fatalf("type byte = 0x%02x, want 0x80", frame[0])
	}
	// Payload header is fixed.
	if !bytes.Equal(frame[4:8], []byte{0x08, 0, 0, 0}) {
		t.Fatalf("payload header = % x", frame[4:8])
	}

	id, payload, err := PayloadOfReflect(frame)
	if err != nil {
		t.Fatal(err)
	}
	if id != 0xdeadbeef {
		t.Errorf("reflectID = 0x%08x, want 0xdeadbeef", id)
	}
	if !bytes.Equal(payload, envelope) {
		t.Errorf("payload = % x, want % x", payload, envelope)
	}
}

func TestReflectedRoundTrip(t *testing.T) {
	envelope := []byte{1, 2, 3, 4, 5}
	at := time.UnixMilli(1710000000123)
	frame := EncodeReflected(envelope, 42, at)

	dec, err := DecodeReflected(frame)
	if err != nil {
		t.Fatal(err)
	}
	if dec.ReflectID != 42 {
		t.Errorf("reflectID = %d, want 42", dec.ReflectID)
	}
	if !dec.ReflectedAt.Equal(at) {
		t.Errorf("reflectedAt = %v, want %v", dec.ReflectedAt, at)
	}
	if !bytes.Equal(dec.Envelope, envelope) {
		t.Errorf("envelope = % x, want % x", dec.Envelope, envelope)
	}
}

func TestDecodeReflectedSkipsUnknownHeaderFields(t *testing.T) {
	// A future server may extend the reflected header; the header-length
	// byte must still locate the ciphertext.
	envelope := []byte{0xca, 0xfe}
	frame := EncodeReflected(envelope, 7, time.UnixMilli(1000))
	// Grow the header by 4 unknown bytes.
	extended := make([]byte, 0, len(frame)+4)
	extended = append(extended, frame[:4]...)
	extended = append(extended, frame[4]+4)
	extended = append(extended, frame[5:17]...)
	extended = append(extended, 0xde, 0xad, 0xbe, 0xef) // unknown header extension
	extended = append(extended, envelope...)

	dec, err := DecodeReflected(extended)
	if err != nil {
		t.Fatal(err)
	}
	if dec.ReflectID != 7 {
		t.Errorf("reflectID = %d, want 7", dec.ReflectID)
	}
	if !bytes.Equal(dec.Envelope, envelope) {
		t.Errorf("envelope = % x, want % x", dec.Envelope, envelope)
	}
}

func TestDecodeReflectedErrors(t *testing.T) {
	var shortErr *ShortFrameError
	if _, err := DecodeReflected([]byte{0x82, 0, 0, 0, 12}); !errors.As(err, &shortErr) {
		t.Errorf("short frame: got %v, want ShortFrameError", err)
	}

	// Header length pointing past the end of the frame.
	frame := EncodeReflected([]byte{1}, 1, time.UnixMilli(1))
	frame[4] = 0xff
	var badLen *BadHeaderLengthError
	if _, err := DecodeReflected(frame); !errors.As(err, &badLen) {
		t.Errorf("bad header length: got %v, want BadHeaderLengthError", err)
	}

	// Header length too small to contain reflect ID and timestamp.
	frame = EncodeReflected([]byte{1}, 1, time.UnixMilli(1))
	frame[4] = 4
	if _, err := DecodeReflected(frame); !errors.As(err, &badLen) {
		t.Errorf("undersized header length: got %v, want BadHeaderLengthError", err)
	}

	var wrongType *WrongTypeError
	ack := EncodeReflectAck(1, time.UnixMilli(1))
	if _, err := DecodeReflected(ack); !errors.As(err, &wrongType) {
		t.Errorf("wrong type: got %v, want WrongTypeError", err)
	}
}

func TestReflectAckRoundTrip(t *testing.T) {
	at := time.UnixMilli(1650000000001)
	frame := EncodeReflectAck(123456, at)
	dec, err := DecodeReflectAck(frame)
	if err != nil {
		t.Fatal(err)
	}
	if dec.ReflectID != 123456 {
		t.Errorf("reflectID = %d, want 123456", dec.ReflectID)
	}
	if !dec.AckedAt.Equal(at) {
		t.Errorf("ackedAt = %v, want %v", dec.AckedAt, at)
	}
}

func TestDecodeReflectAckShort(t *testing.T) {
	var shortErr *ShortFrameError
	if _, err := DecodeReflectAck([]byte{0x81, 0, 0, 0, 1, 2, 3}); !errors.As(err, &shortErr) {
		t.Errorf("got %v, want ShortFrameError", err)
	}
}

func TestEncodeReflectedAck(t *testing.T) {
	frame := EncodeReflectedAck(9)
	want := []byte{0x83, 0, 0, 0, 0x08, 0, 0, 0, 9, 0, 0, 0}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeReflectedAck(9) = % x, want % x", frame, want)
	}
}
