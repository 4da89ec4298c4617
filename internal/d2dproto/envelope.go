// Package d2dproto defines the device-to-device envelope: the structured,
// versioned payload describing one state change that is reflected through
// the mediator to the other devices in the group. The wire format is
// protobuf; the codec is written directly against the protobuf wire types
// so the envelope layout stays a single explicit contract in this package.
package d2dproto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. The content variants form a oneof: exactly one is
// present per envelope.
const (
	fieldPadding               = 1
	fieldDeviceID              = 2
	fieldOutgoingMessage       = 3
	fieldOutgoingMessageUpdate = 4
	fieldIncomingMessage       = 5
	fieldIncomingMessageUpdate = 6
	fieldUserProfileSync       = 7
	fieldContactSync           = 8
	fieldGroupSync             = 9
	fieldSettingsSync          = 12
	fieldMdmParameterSync      = 13
)

// ErrNoContent is returned when an envelope decodes with no content variant.
var ErrNoContent = errors.New("d2dproto: envelope has no content")

// Content is one of the envelope content variants.
type Content interface {
	fieldNumber() protowire.Number
	appendTo(b []byte) ([]byte, error)
}

// Envelope wraps exactly one device-to-device state change.
type Envelope struct {
	// DeviceID identifies the sending device within the device group.
	DeviceID uint64
	// Padding obscures the true envelope length from the mediator.
	Padding []byte
	Content Content
}

// Marshal serializes the envelope to protobuf wire format.
func (e *Envelope) Marshal() ([]byte, error) {
	if e.Content == nil {
		return nil, ErrNoContent
	}
	var b []byte
	if len(e.Padding) > 0 {
		b = protowire.AppendTag(b, fieldPadding, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Padding)
	}
	b = protowire.AppendTag(b, fieldDeviceID, protowire.VarintType)
	b = protowire.AppendVarint(b, e.DeviceID)

	inner, err := e.Content.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, e.Content.fieldNumber(), protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b, nil
}

// Unmarshal parses an envelope, skipping unknown fields. If several content
// fields are present the last one wins, matching protobuf oneof semantics.
func (e *Envelope) Unmarshal(raw []byte) error {
	*e = Envelope{}
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return fmt.Errorf("d2dproto: envelope: %w", protowire.ParseError(n))
		}
		raw = raw[n:]

		switch {
		case num == fieldPadding && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("d2dproto: envelope padding: %w", protowire.ParseError(n))
			}
			e.Padding = append([]byte(nil), v...)
			raw = raw[n:]
		case num == fieldDeviceID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return fmt.Errorf("d2dproto: envelope device id: %w", protowire.ParseError(n))
			}
			e.DeviceID = v
			raw = raw[n:]
		case typ == protowire.BytesType && isContentField(num):
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return fmt.Errorf("d2dproto: envelope content: %w", protowire.ParseError(n))
			}
			content, err := unmarshalContent(num, v)
			if err != nil {
				return err
			}
			e.Content = content
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return fmt.Errorf("d2dproto: envelope field %d: %w", num, protowire.ParseError(n))
			}
			raw = raw[n:]
		}
	}
	if e.Content == nil {
		return ErrNoContent
	}
	return nil
}

func isContentField(num protowire.Number) bool {
	switch num {
	case fieldOutgoingMessage, fieldOutgoingMessageUpdate,
		fieldIncomingMessage, fieldIncomingMessageUpdate,
		fieldUserProfileSync, fieldContactSync, fieldGroupSync,
		fieldSettingsSync, fieldMdmParameterSync:
		return true
	}
	return false
}

func unmarshalContent(num protowire.Number, raw []byte) (Content, error) {
	switch num {
	case fieldOutgoingMessage:
		m := new(OutgoingMessage)
		return m, m.unmarshal(raw)
	case fieldOutgoingMessageUpdate:
		m := new(OutgoingMessageUpdate)
		return m, m.unmarshal(raw)
	case fieldIncomingMessage:
		m := new(IncomingMessage)
		return m, m.unmarshal(raw)
	case fieldIncomingMessageUpdate:
		m := new(IncomingMessageUpdate)
		return m, m.unmarshal(raw)
	case fieldUserProfileSync:
		m := new(UserProfileSync)
		return m, m.unmarshal(raw)
	case fieldContactSync:
		m := new(ContactSync)
		return m, m.unmarshal(raw)
	case fieldGroupSync:
		m := new(GroupSync)
		return m, m.unmarshal(raw)
	case fieldSettingsSync:
		m := new(SettingsSync)
		return m, m.unmarshal(raw)
	case fieldMdmParameterSync:
		m := new(MdmParameterSync)
		return m, m.unmarshal(raw)
	}
	return nil, fmt.Errorf("d2dproto: not a content field: %d", num)
}
