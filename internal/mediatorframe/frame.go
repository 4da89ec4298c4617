// Package mediatorframe encodes and decodes the binary frames exchanged
// with the mediator server. Every frame starts with a 4-byte common header
// (type byte followed by three zero bytes); reflect-family frames carry an
// additional payload header, a reflect ID and an encrypted envelope.
// All multi-byte integers are little-endian.
package mediatorframe

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Type is the mediator message type carried in the first header byte.
type Type byte

const (
	TypeProxy                Type = 0x00
	TypeServerHello          Type = 0x10
	TypeClientHello          Type = 0x11
	TypeServerInfo           Type = 0x12
	TypeReflectionQueueDry   Type = 0x20
	TypeRolePromotedToLeader Type = 0x21
	TypeGetDeviceInfo        Type = 0x30
	TypeDeviceInfo           Type = 0x31
	TypeDropDevice           Type = 0x32
	TypeDropDeviceAck        Type = 0x33
	TypeSetSharedDeviceData  Type = 0x34
	TypeLock                 Type = 0x40
	TypeLockAck              Type = 0x41
	TypeUnlock               Type = 0x42
	TypeUnlockAck            Type = 0x43
	TypeRejected             Type = 0x44
	TypeEnded                Type = 0x45
	TypeReflect              Type = 0x80
	TypeReflectAck           Type = 0x81
	TypeReflected            Type = 0x82
	TypeReflectedAck         Type = 0x83
)

func (t Type) String() string {
	switch t {
	case TypeProxy:
		return "proxy"
	case TypeServerHello:
		return "serverHello"
	case TypeClientHello:
		return "clientHello"
	case TypeServerInfo:
		return "serverInfo"
	case TypeReflectionQueueDry:
		return "reflectionQueueDry"
	case TypeRolePromotedToLeader:
		return "rolePromotedToLeader"
	case TypeGetDeviceInfo:
		return "getDeviceInfo"
	case TypeDeviceInfo:
		return "deviceInfo"
	case TypeDropDevice:
		return "dropDevice"
	case TypeDropDeviceAck:
		return "dropDeviceAck"
	case TypeSetSharedDeviceData:
		return "setSharedDeviceData"
	case TypeLock:
		return "lock"
	case TypeLockAck:
		return "lockAck"
	case TypeUnlock:
		return "unlock"
	case TypeUnlockAck:
		return "unlockAck"
	case TypeRejected:
		return "rejected"
	case TypeEnded:
		return "ended"
	case TypeReflect:
		return "reflect"
	case TypeReflectAck:
		return "reflectAck"
	case TypeReflected:
		return "reflected"
	case TypeReflectedAck:
		return "reflectedAck"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

const (
	// CommonHeaderLen is the length of the common header present on every
	// mediator frame: one type byte and three reserved zero bytes.
	CommonHeaderLen = 4

	// payloadHeaderLen is the length of the fixed payload header on
	// reflect and reflectedAck frames.
	payloadHeaderLen = 4

	reflectIDLen = 4
	timestampLen = 8

	// reflectedMinLen is the structural minimum for a reflected frame:
	// common header, header-length byte, reflect ID and timestamp.
	reflectedMinLen = CommonHeaderLen + 1 + reflectIDLen + timestampLen

	// reflectAckLen is the fixed length of a reflect-ack frame.
	reflectAckLen = CommonHeaderLen + reflectIDLen + timestampLen
)

// Typed decode errors. Decoding never silently truncates: a frame shorter
// than its structural minimum is rejected.
type ShortFrameError struct {
	Type Type
	Got  int
	Want int
}

func (e *ShortFrameError) Error() string {
	return fmt.Sprintf("mediatorframe: short %s frame: got %d bytes, need %d", e.Type, e.Got, e.Want)
}

type BadHeaderLengthError struct {
	HeaderLen int
	FrameLen  int
}

func (e *BadHeaderLengthError) Error() string {
	return fmt.Sprintf("mediatorframe: reflected header length %d exceeds frame length %d", e.HeaderLen, e.FrameLen)
}

type WrongTypeError struct {
	Got  Type
	Want Type
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("mediatorframe: frame type %s, want %s", e.Got, e.Want)
}

// IsMediatorFrame reports whether raw looks like a mediator frame rather
// than a proxied chat-server frame: at least a common header, a non-proxy
// type byte, and zeroed reserved bytes.
func IsMediatorFrame(raw []byte) bool {
	if len(raw) < CommonHeaderLen {
		return false
	}
	if Type(raw[0]) == TypeProxy {
		return false
	}
	return raw[1] == 0 && raw[2] == 0 && raw[3] == 0
}

// EncodeCommonHeader returns the 4-byte common header for the given type.
func EncodeCommonHeader(t Type) []byte {
	return []byte{byte(t), 0, 0, 0}
}

// EncodeReflect builds a reflect frame carrying an encrypted envelope:
// common header, payload header, reflect ID, envelope ciphertext.
func EncodeReflect(envelope []byte, reflectID uint32) []byte {
	buf := make([]byte, 0, CommonHeaderLen+payloadHeaderLen+reflectIDLen+len(envelope))
	buf = append(buf, EncodeCommonHeader(TypeReflect)...)
	// Payload header: its own length followed by three reserved bytes.
	// 0x08 counts the payload header plus the reflect ID.
	buf = append(buf, 0x08, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, reflectID)
	buf = append(buf, envelope...)
	return buf
}

// EncodeReflectedAck builds the acknowledgement for a reflected frame.
func EncodeReflectedAck(reflectID uint32) []byte {
	buf := make([]byte, 0, CommonHeaderLen+payloadHeaderLen+reflectIDLen)
	buf = append(buf, EncodeCommonHeader(TypeReflectedAck)...)
	buf = append(buf, 0x08, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, reflectID)
	return buf
}

// Reflected is a decoded reflected frame: an envelope fanned out to this
// device by the mediator.
type Reflected struct {
	ReflectID   uint32
	ReflectedAt time.Time
	Envelope    []byte // still encrypted
}

// DecodeReflected parses a reflected frame. The byte at offset 4 gives the
// length of the frame-local header (everything between the common header
// and the ciphertext), which lets older clients skip header fields added
// by newer servers.
func DecodeReflected(raw []byte) (*Reflected, error) {
	if len(raw) < reflectedMinLen {
		return nil, &ShortFrameError{Type: TypeReflected, Got: len(raw), Want: reflectedMinLen}
	}
	if t := Type(raw[0]); t != TypeReflected {
		return nil, &WrongTypeError{Got: t, Want: TypeReflected}
	}
	headerLen := int(raw[4])
	ciphertextStart := CommonHeaderLen + 1 + headerLen
	if headerLen < reflectIDLen+timestampLen {
		return nil, &BadHeaderLengthError{HeaderLen: headerLen, FrameLen: len(raw)}
	}
	if ciphertextStart > len(raw) {
		return nil, &BadHeaderLengthError{HeaderLen: headerLen, FrameLen: len(raw)}
	}
	reflectID := binary.LittleEndian.Uint32(raw[5:9])
	millis := binary.LittleEndian.Uint64(raw[9:17])
	return &Reflected{
		ReflectID:   reflectID,
		ReflectedAt: time.UnixMilli(int64(millis)),
		Envelope:    raw[ciphertextStart:],
	}, nil
}

// EncodeReflected builds a reflected frame. Only the mediator server sends
// these in production; the encoder exists for loopback tests and tooling.
func EncodeReflected(envelope []byte, reflectID uint32, reflectedAt time.Time) []byte {
	headerLen := reflectIDLen + timestampLen
	buf := make([]byte, 0, CommonHeaderLen+1+headerLen+len(envelope))
	buf = append(buf, EncodeCommonHeader(TypeReflected)...)
	buf = append(buf, byte(headerLen))
	buf = binary.LittleEndian.AppendUint32(buf, reflectID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(reflectedAt.UnixMilli()))
	buf = append(buf, envelope...)
	return buf
}

// ReflectAck is the server's confirmation that a reflect frame has been
// stored in the reflection queues of the other devices.
type ReflectAck struct {
	ReflectID uint32
	AckedAt   time.Time
}

// DecodeReflectAck parses a reflect-ack frame. The layout is fixed: reflect
// ID at offset 4, acked-at milliseconds at offset 8. There is no
// header-length field.
func DecodeReflectAck(raw []byte) (*ReflectAck, error) {
	if len(raw) < reflectAckLen {
		return nil, &ShortFrameError{Type: TypeReflectAck, Got: len(raw), Want: reflectAckLen}
	}
	if t := Type(raw[0]); t != TypeReflectAck {
		return nil, &WrongTypeError{Got: t, Want: TypeReflectAck}
	}
	return &ReflectAck{
		ReflectID: binary.LittleEndian.Uint32(raw[4:8]),
		AckedAt:   time.UnixMilli(int64(binary.LittleEndian.Uint64(raw[8:16]))),
	}, nil
}

// EncodeReflectAck builds a reflect-ack frame (server side; used in tests).
func EncodeReflectAck(reflectID uint32, ackedAt time.Time) []byte {
	buf := make([]byte, 0, reflectAckLen)
	buf = append(buf, EncodeCommonHeader(TypeReflectAck)...)
	buf = binary.LittleEndian.AppendUint32(buf, reflectID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ackedAt.UnixMilli()))
	return buf
}

// PayloadOfReflect extracts the envelope ciphertext from an encoded reflect
// frame, the inverse of EncodeReflect. Used by loopback tests and by the
// queue when re-inspecting a frame it built earlier.
func PayloadOfReflect(raw []byte) (reflectID uint32, envelope []byte, err error) {
	minLen := CommonHeaderLen + payloadHeaderLen + reflectIDLen
	if len(raw) < minLen {
		return 0, nil, &ShortFrameError{Type: TypeReflect, Got: len(raw), Want: minLen}
	}
	if t := Type(raw[0]); t != TypeReflect {
		return 0, nil, &WrongTypeError{Got: t, Want: TypeReflect}
	}
	reflectID = binary.LittleEndian.Uint32(raw[CommonHeaderLen+payloadHeaderLen : CommonHeaderLen+payloadHeaderLen+reflectIDLen])
	return reflectID, raw[minLen:], nil
}
