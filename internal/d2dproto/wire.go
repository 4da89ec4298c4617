package d2dproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Small wrappers around protowire consumption that return the remaining
// buffer, keeping the per-message decode loops readable.

func parseBytes(raw []byte, what string) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, nil, fmt.Errorf("d2dproto: %s: %w", what, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), raw[n:], nil
}

func parseString(raw []byte, what string) (string, []byte, error) {
	v, rest, err := parseBytes(raw, what)
	return string(v), rest, err
}

func parseVarint(raw []byte, what string) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return 0, nil, fmt.Errorf("d2dproto: %s: %w", what, protowire.ParseError(n))
	}
	return v, raw[n:], nil
}

func parseFixed64(raw []byte, what string) (uint64, []byte, error) {
	v, n := protowire.ConsumeFixed64(raw)
	if n < 0 {
		return 0, nil, fmt.Errorf("d2dproto: %s: %w", what, protowire.ParseError(n))
	}
	return v, raw[n:], nil
}

func skipField(num protowire.Number, typ protowire.Type, raw []byte, what string) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, raw)
	if n < 0 {
		return nil, fmt.Errorf("d2dproto: %s field %d: %w", what, num, protowire.ParseError(n))
	}
	return raw[n:], nil
}

func parseTag(raw []byte, what string) (protowire.Number, protowire.Type, []byte, error) {
	num, typ, n := protowire.ConsumeTag(raw)
	if n < 0 {
		return 0, 0, nil, fmt.Errorf("d2dproto: %s: %w", what, protowire.ParseError(n))
	}
	return num, typ, raw[n:], nil
}

// Append helpers follow proto3 presence rules: zero values are omitted.

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFixed64Field(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

func appendMessageField(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}
