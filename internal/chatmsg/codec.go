package chatmsg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chatmesh/mediator-go/internal/msgtype"
)

// Wire layout of the legacy message body per type. Group messages start
// with the group creator identity (8 ASCII bytes) and the group ID
// (8 bytes little-endian); photo messages carry blob ID (16 bytes),
// size (4 bytes LE) and key (32 bytes). File and ballot payloads are JSON.

const (
	blobIDLen  = 16
	blobKeyLen = 32
)

// ShortBodyError reports a body shorter than the structural minimum for
// its message type.
type ShortBodyError struct {
	Type msgtype.Type
	Got  int
	Want int
}

func (e *ShortBodyError) Error() string {
	return fmt.Sprintf("chatmsg: short %v body: got %d bytes, need %d", e.Type, e.Got, e.Want)
}

// NotChatMessageError reports a known legacy code that carries control
// traffic (forward security, keep-alive, auth tokens) rather than a chat
// message. Such payloads are handled before decoding, never through it.
type NotChatMessageError struct {
	Type msgtype.Type
}

func (e *NotChatMessageError) Error() string {
	return fmt.Sprintf("chatmsg: %v is not a chat message", e.Type)
}

// Decode parses a legacy message body into its concrete message value.
// Unknown legacy codes yield an error carrying msgtype.TypeInvalid.
func Decode(code msgtype.Legacy, body []byte) (Message, error) {
	typ := msgtype.FromLegacy(code)
	switch typ {
	case msgtype.TypeInvalid:
		return nil, fmt.Errorf("chatmsg: unknown legacy message type 0x%02x", byte(code))

	case msgtype.TypeForwardSecurity, msgtype.TypeEmpty, msgtype.TypeAuthToken:
		return nil, &NotChatMessageError{Type: typ}

	case msgtype.TypeText:
		return Text{Body: string(body)}, nil

	case msgtype.TypeLocation:
		return decodeLocation(body)

	case msgtype.TypeFile:
		var f File
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("chatmsg: file descriptor: %w", err)
		}
		return f, nil

	case msgtype.TypeBallotCreate:
		return decodeBallotCreate(typ, body)

	case msgtype.TypeBallotVote:
		return decodeBallotVote(typ, body)

	case msgtype.TypeDeliveryReceipt:
		return decodeDeliveryReceipt(typ, body)

	case msgtype.TypeTypingIndicator:
		if len(body) < 1 {
			return nil, &ShortBodyError{Type: typ, Got: len(body), Want: 1}
		}
		return TypingIndicator{Started: body[0] != 0}, nil

	case msgtype.TypeEdit:
		if len(body) < MessageIDLen {
			return nil, &ShortBodyError{Type: typ, Got: len(body), Want: MessageIDLen}
		}
		return Edit{
			MessageID: binary.LittleEndian.Uint64(body[:MessageIDLen]),
			Body:      string(body[MessageIDLen:]),
		}, nil

	case msgtype.TypeDelete:
		if len(body) < MessageIDLen {
			return nil, &ShortBodyError{Type: typ, Got: len(body), Want: MessageIDLen}
		}
		return Delete{MessageID: binary.LittleEndian.Uint64(body[:MessageIDLen])}, nil

	case msgtype.TypeContactSetPhoto:
		blobID, size, key, err := decodePhoto(typ, body)
		if err != nil {
			return nil, err
		}
		return ContactSetPhoto{BlobID: blobID, Size: size, Key: key}, nil

	case msgtype.TypeContactDeletePhoto:
		return ContactDeletePhoto{}, nil

	case msgtype.TypeContactRequestPhoto:
		return ContactRequestPhoto{}, nil

	case msgtype.TypeVoIPCallOffer:
		return CallOffer{Payload: clone(body)}, nil
	case msgtype.TypeVoIPCallAnswer:
		return CallAnswer{Payload: clone(body)}, nil
	case msgtype.TypeVoIPICECandidate:
		return CallICECandidate{Payload: clone(body)}, nil
	case msgtype.TypeVoIPCallHangup:
		return CallHangup{Payload: clone(body)}, nil
	case msgtype.TypeVoIPCallRinging:
		return CallRinging{Payload: clone(body)}, nil

	case msgtype.TypeDeprecatedImage:
		return DeprecatedImage{Raw: clone(body)}, nil
	case msgtype.TypeDeprecatedVideo:
		return DeprecatedVideo{Raw: clone(body)}, nil
	case msgtype.TypeDeprecatedAudio:
		return DeprecatedAudio{Raw: clone(body)}, nil
	}

	// Group-scoped types share the group header.
	group, rest, err := decodeGroupHeader(typ, body)
	if err != nil {
		return nil, err
	}

	switch typ {
	case msgtype.TypeGroupText:
		return GroupText{GroupRef: group, Body: string(rest)}, nil

	case msgtype.TypeGroupLocation:
		loc, err := decodeLocation(rest)
		if err != nil {
			return nil, err
		}
		return GroupLocation{GroupRef: group, Location: loc.(Location)}, nil

	case msgtype.TypeGroupFile:
		var f File
		if err := json.Unmarshal(rest, &f); err != nil {
			return nil, fmt.Errorf("chatmsg: group file descriptor: %w", err)
		}
		return GroupFile{GroupRef: group, File: f}, nil

	case msgtype.TypeGroupCreate:
		if len(rest)%IdentityLen != 0 {
			return nil, fmt.Errorf("chatmsg: group create member list length %d not a multiple of %d", len(rest), IdentityLen)
		}
		var members []string
		for i := 0; i < len(rest); i += IdentityLen {
			members = append(members, string(rest[i:i+IdentityLen]))
		}
		return GroupCreate{GroupRef: group, Members: members}, nil

	case msgtype.TypeGroupRename:
		return GroupRename{GroupRef: group, Name: string(rest)}, nil

	case msgtype.TypeGroupLeave:
		return GroupLeave{GroupRef: group}, nil

	case msgtype.TypeGroupSetPhoto:
		blobID, size, key, err := decodePhoto(typ, rest)
		if err != nil {
			return nil, err
		}
		return GroupSetPhoto{GroupRef: group, BlobID: blobID, Size: size, Key: key}, nil

	case msgtype.TypeGroupDeletePhoto:
		return GroupDeletePhoto{GroupRef: group}, nil

	case msgtype.TypeGroupRequestSync:
		return GroupRequestSync{GroupRef: group}, nil

	case msgtype.TypeGroupBallotCreate:
		bc, err := decodeBallotCreate(typ, rest)
		if err != nil {
			return nil, err
		}
		return GroupBallotCreate{GroupRef: group, BallotCreate: bc.(BallotCreate)}, nil

	case msgtype.TypeGroupBallotVote:
		bv, err := decodeBallotVote(typ, rest)
		if err != nil {
			return nil, err
		}
		return GroupBallotVote{GroupRef: group, BallotVote: bv.(BallotVote)}, nil

	case msgtype.TypeGroupDeliveryReceipt:
		dr, err := decodeDeliveryReceipt(typ, rest)
		if err != nil {
			return nil, err
		}
		return GroupDeliveryReceipt{GroupRef: group, DeliveryReceipt: dr.(DeliveryReceipt)}, nil

	case msgtype.TypeGroupEdit:
		if len(rest) < MessageIDLen {
			return nil, &ShortBodyError{Type: typ, Got: len(rest), Want: MessageIDLen}
		}
		return GroupEdit{GroupRef: group, Edit: Edit{
			MessageID: binary.LittleEndian.Uint64(rest[:MessageIDLen]),
			Body:      string(rest[MessageIDLen:]),
		}}, nil

	case msgtype.TypeGroupDelete:
		if len(rest) < MessageIDLen {
			return nil, &ShortBodyError{Type: typ, Got: len(rest), Want: MessageIDLen}
		}
		return GroupDelete{GroupRef: group, Delete: Delete{
			MessageID: binary.LittleEndian.Uint64(rest[:MessageIDLen]),
		}}, nil

	case msgtype.TypeGroupCallStart:
		return GroupCallStart{GroupRef: group, Payload: clone(rest)}, nil

	case msgtype.TypeGroupDeprecatedImage:
		return GroupDeprecatedImage{GroupRef: group, Raw: clone(rest)}, nil
	case msgtype.TypeGroupDeprecatedVideo:
		return GroupDeprecatedVideo{GroupRef: group, Raw: clone(rest)}, nil
	case msgtype.TypeGroupDeprecatedAudio:
		return GroupDeprecatedAudio{GroupRef: group, Raw: clone(rest)}, nil
	}

	return nil, fmt.Errorf("chatmsg: no decoder for %v", typ)
}

// Encode serializes a message to its legacy body and returns the legacy
// type code alongside.
func Encode(msg Message) (msgtype.Legacy, []byte, error) {
	code, err := msgtype.ToLegacy(msg.Type())
	if err != nil {
		return 0, nil, err
	}

	var body []byte
	switch m := msg.(type) {
	case Text:
		body = []byte(m.Body)
	case Location:
		body = encodeLocation(m)
	case File:
		body, err = json.Marshal(m)
	case BallotCreate:
		body, err = encodeBallotCreate(m)
	case BallotVote:
		body, err = encodeBallotVote(m)
	case DeliveryReceipt:
		body = encodeDeliveryReceipt(m)
	case TypingIndicator:
		if m.Started {
			body = []byte{1}
		} else {
			body = []byte{0}
		}
	case Edit:
		body = binary.LittleEndian.AppendUint64(nil, m.MessageID)
		body = append(body, m.Body...)
	case Delete:
		body = binary.LittleEndian.AppendUint64(nil, m.MessageID)
	case ContactSetPhoto:
		body, err = encodePhoto(m.BlobID, m.Size, m.Key)
	case ContactDeletePhoto, ContactRequestPhoto:
		body = nil
	case CallOffer:
		body = m.Payload
	case CallAnswer:
		body = m.Payload
	case CallICECandidate:
		body = m.Payload
	case CallHangup:
		body = m.Payload
	case CallRinging:
		body = m.Payload

	case GroupText:
		body = appendGroupHeader(nil, m.GroupRef)
		body = append(body, m.Body...)
	case GroupLocation:
		body = appendGroupHeader(nil, m.GroupRef)
		body = append(body, encodeLocation(m.Location)...)
	case GroupFile:
		var inner []byte
		inner, err = json.Marshal(m.File)
		body = append(appendGroupHeader(nil, m.GroupRef), inner...)
	case GroupCreate:
		body = appendGroupHeader(nil, m.GroupRef)
		for _, member := range m.Members {
			if len(member) != IdentityLen {
				return 0, nil, fmt.Errorf("chatmsg: group member identity %q is not %d characters", member, IdentityLen)
			}
			body = append(body, member...)
		}
	case GroupRename:
		body = appendGroupHeader(nil, m.GroupRef)
		body = append(body, m.Name...)
	case GroupLeave:
		body = appendGroupHeader(nil, m.GroupRef)
	case GroupSetPhoto:
		var inner []byte
		inner, err = encodePhoto(m.BlobID, m.Size, m.Key)
		body = append(appendGroupHeader(nil, m.GroupRef), inner...)
	case GroupDeletePhoto:
		body = appendGroupHeader(nil, m.GroupRef)
	case GroupRequestSync:
		body = appendGroupHeader(nil, m.GroupRef)
	case GroupBallotCreate:
		var inner []byte
		inner, err = encodeBallotCreate(m.BallotCreate)
		body = append(appendGroupHeader(nil, m.GroupRef), inner...)
	case GroupBallotVote:
		var inner []byte
		inner, err = encodeBallotVote(m.BallotVote)
		body = append(appendGroupHeader(nil, m.GroupRef), inner...)
	case GroupDeliveryReceipt:
		body = append(appendGroupHeader(nil, m.GroupRef), encodeDeliveryReceipt(m.DeliveryReceipt)...)
	case GroupEdit:
		body = appendGroupHeader(nil, m.GroupRef)
		body = binary.LittleEndian.AppendUint64(body, m.MessageID)
		body = append(body, m.Body...)
	case GroupDelete:
		body = appendGroupHeader(nil, m.GroupRef)
		body = binary.LittleEndian.AppendUint64(body, m.MessageID)
	case GroupCallStart:
		body = append(appendGroupHeader(nil, m.GroupRef), m.Payload...)

	case DeprecatedImage, DeprecatedVideo, DeprecatedAudio,
		GroupDeprecatedImage, GroupDeprecatedVideo, GroupDeprecatedAudio:
		return 0, nil, fmt.Errorf("chatmsg: %v is deprecated and cannot be encoded", msg.Type())

	default:
		return 0, nil, fmt.Errorf("chatmsg: no encoder for %T", msg)
	}
	if err != nil {
		return 0, nil, err
	}
	return code, body, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func decodeGroupHeader(typ msgtype.Type, body []byte) (GroupRef, []byte, error) {
	want := IdentityLen + 8
	if len(body) < want {
		return GroupRef{}, nil, &ShortBodyError{Type: typ, Got: len(body), Want: want}
	}
	return GroupRef{
		CreatorIdentity: string(body[:IdentityLen]),
		GroupID:         binary.LittleEndian.Uint64(body[IdentityLen:want]),
	}, body[want:], nil
}

func appendGroupHeader(b []byte, g GroupRef) []byte {
	id := g.CreatorIdentity
	// Identities are fixed width on the wire; pad defensively rather than
	// emit a short header.
	for len(id) < IdentityLen {
		id += " "
	}
	b = append(b, id[:IdentityLen]...)
	return binary.LittleEndian.AppendUint64(b, g.GroupID)
}

// Location bodies are text: "lat,lon[,accuracy]" with an optional second
// line carrying the POI name.
func decodeLocation(body []byte) (Message, error) {
	text, name, _ := strings.Cut(string(body), "\n")
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("chatmsg: location body %q missing coordinates", text)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("chatmsg: location latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("chatmsg: location longitude: %w", err)
	}
	loc := Location{Latitude: lat, Longitude: lon, Name: name}
	if len(parts) >= 3 {
		if acc, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil {
			loc.Accuracy = acc
		}
	}
	return loc, nil
}

func encodeLocation(m Location) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%f,%f", m.Latitude, m.Longitude)
	if m.Accuracy > 0 {
		fmt.Fprintf(&sb, ",%f", m.Accuracy)
	}
	if m.Name != "" {
		sb.WriteByte('\n')
		sb.WriteString(m.Name)
	}
	return []byte(sb.String())
}

// Ballot bodies are the 8-byte ballot ID followed by a JSON document.
func decodeBallotCreate(typ msgtype.Type, body []byte) (Message, error) {
	if len(body) < MessageIDLen {
		return nil, &ShortBodyError{Type: typ, Got: len(body), Want: MessageIDLen}
	}
	bc := BallotCreate{BallotID: binary.LittleEndian.Uint64(body[:MessageIDLen])}
	if err := json.Unmarshal(body[MessageIDLen:], &bc); err != nil {
		return nil, fmt.Errorf("chatmsg: ballot create: %w", err)
	}
	return bc, nil
}

func encodeBallotCreate(m BallotCreate) ([]byte, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(binary.LittleEndian.AppendUint64(nil, m.BallotID), doc...), nil
}

func decodeBallotVote(typ msgtype.Type, body []byte) (Message, error) {
	if len(body) < MessageIDLen {
		return nil, &ShortBodyError{Type: typ, Got: len(body), Want: MessageIDLen}
	}
	bv := BallotVote{BallotID: binary.LittleEndian.Uint64(body[:MessageIDLen])}
	if err := json.Unmarshal(body[MessageIDLen:], &bv); err != nil {
		return nil, fmt.Errorf("chatmsg: ballot vote: %w", err)
	}
	return bv, nil
}

func encodeBallotVote(m BallotVote) ([]byte, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(binary.LittleEndian.AppendUint64(nil, m.BallotID), doc...), nil
}

// Delivery receipts are the receipt kind byte followed by message IDs.
func decodeDeliveryReceipt(typ msgtype.Type, body []byte) (Message, error) {
	if len(body) < 1+MessageIDLen {
		return nil, &ShortBodyError{Type: typ, Got: len(body), Want: 1 + MessageIDLen}
	}
	rest := body[1:]
	if len(rest)%MessageIDLen != 0 {
		return nil, fmt.Errorf("chatmsg: delivery receipt id list length %d not a multiple of %d", len(rest), MessageIDLen)
	}
	dr := DeliveryReceipt{Kind: ReceiptKind(body[0])}
	for i := 0; i < len(rest); i += MessageIDLen {
		dr.MessageIDs = append(dr.MessageIDs, binary.LittleEndian.Uint64(rest[i:i+MessageIDLen]))
	}
	return dr, nil
}

func encodeDeliveryReceipt(m DeliveryReceipt) []byte {
	body := []byte{byte(m.Kind)}
	for _, id := range m.MessageIDs {
		body = binary.LittleEndian.AppendUint64(body, id)
	}
	return body
}

// Photo bodies are blob ID, 4-byte size and the symmetric blob key.
func decodePhoto(typ msgtype.Type, body []byte) (blobID []byte, size uint32, key []byte, err error) {
	want := blobIDLen + 4 + blobKeyLen
	if len(body) < want {
		return nil, 0, nil, &ShortBodyError{Type: typ, Got: len(body), Want: want}
	}
	blobID = clone(body[:blobIDLen])
	size = binary.LittleEndian.Uint32(body[blobIDLen : blobIDLen+4])
	key = clone(body[blobIDLen+4 : want])
	return blobID, size, key, nil
}

func encodePhoto(blobID []byte, size uint32, key []byte) ([]byte, error) {
	if len(blobID) != blobIDLen {
		return nil, fmt.Errorf("chatmsg: blob ID must be %d bytes, got %d", blobIDLen, len(blobID))
	}
	if len(key) != blobKeyLen {
		return nil, fmt.Errorf("chatmsg: blob key must be %d bytes, got %d", blobKeyLen, len(key))
	}
	body := clone(blobID)
	body = binary.LittleEndian.AppendUint32(body, size)
	return append(body, key...), nil
}
