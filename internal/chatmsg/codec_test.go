package chatmsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/chatmesh/mediator-go/internal/msgtype"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	code, body, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode(%T): %v", msg, err)
	}
	got, err := Decode(code, body)
	if err != nil {
		t.Fatalf("Decode(%T): %v", msg, err)
	}
	return got
}

func TestTextRoundTrip(t *testing.T) {
	msg := Text{Body: "hello, world"}
	got := roundTrip(t, msg)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("got %#v, want %#v", got, msg)
	}

	code, body, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if code != msgtype.LegacyText {
		t.Errorf("legacy code = 0x%02x, want 0x%02x", byte(code), byte(msgtype.LegacyText))
	}
	if string(body) != msg.Body {
		t.Errorf("body = %q, want raw UTF-8", body)
	}
}

func TestLocationRoundTrip(t *testing.T) {
	tests := []Location{
		{Latitude: 47.3769, Longitude: 8.5417},
		{Latitude: 47.3769, Longitude: 8.5417, Accuracy: 12.5},
		{Latitude: -33.8688, Longitude: 151.2093, Accuracy: 5, Name: "Opera House"},
		{Latitude: 0.000001, Longitude: -0.000001, Name: "null island-ish"},
	}
	for _, want := range tests {
		got := roundTrip(t, want).(Location)
		if got.Name != want.Name {
			t.Errorf("name = %q, want %q", got.Name, want.Name)
		}
		// %f keeps six decimals, so compare at that precision.
		const eps = 1e-5
		if diff := got.Latitude - want.Latitude; diff > eps || diff < -eps {
			t.Errorf("latitude = %v, want %v", got.Latitude, want.Latitude)
		}
		if diff := got.Longitude - want.Longitude; diff > eps || diff < -eps {
			t.Errorf("longitude = %v, want %v", got.Longitude, want.Longitude)
		}
	}
}

func TestLocationDecodeErrors(t *testing.T) {
	for _, body := range []string{"", "47.38", "abc,def"} {
		if _, err := Decode(msgtype.LegacyLocation, []byte(body)); err == nil {
			t.Errorf("Decode(%q): want error", body)
		}
	}
}

func TestFileRoundTrip(t *testing.T) {
	msg := File{
		BlobID:   bytes.Repeat([]byte{0xab}, 16),
		Key:      bytes.Repeat([]byte{0xcd}, 32),
		MimeType: "image/png",
		Name:     "cat.png",
		Size:     98765,
	}
	got := roundTrip(t, msg)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("got %#v, want %#v", got, msg)
	}
}

func TestBallotRoundTrip(t *testing.T) {
	create := BallotCreate{
		BallotID: 0x1122334455667788,
		Title:    "lunch?",
		Choices:  []string{"pizza", "ramen"},
	}
	if got := roundTrip(t, create); !reflect.DeepEqual(got, create) {
		t.Errorf("create: got %#v, want %#v", got, create)
	}

	vote := BallotVote{BallotID: 0x1122334455667788, Choices: []int{1}}
	if got := roundTrip(t, vote); !reflect.DeepEqual(got, vote) {
		t.Errorf("vote: got %#v, want %#v", got, vote)
	}

	// The ballot ID rides in the binary prefix, not the JSON document.
	_, body, err := Encode(create)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(body[8:], []byte("BallotID")) {
		t.Errorf("ballot ID leaked into JSON document: %s", body[8:])
	}
	if binary.LittleEndian.Uint64(body[:8]) != create.BallotID {
		t.Errorf("prefix = %x, want %x", body[:8], create.BallotID)
	}
}

func TestDeliveryReceiptRoundTrip(t *testing.T) {
	msg := DeliveryReceipt{
		Kind:       ReceiptRead,
		MessageIDs: []uint64{1, 0xdeadbeefcafe, 42},
	}
	got := roundTrip(t, msg)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("got %#v, want %#v", got, msg)
	}

	_, body, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 1+3*8 {
		t.Errorf("body length = %d, want %d", len(body), 1+3*8)
	}
	if body[0] != byte(ReceiptRead) {
		t.Errorf("kind byte = 0x%02x, want 0x%02x", body[0], byte(ReceiptRead))
	}
}

func TestDeliveryReceiptDecodeErrors(t *testing.T) {
	// Empty and ragged ID lists are both malformed.
	if _, err := Decode(msgtype.LegacyDeliveryReceipt, []byte{byte(ReceiptReceived)}); err == nil {
		t.Error("empty ID list: want error")
	}
	body := append([]byte{byte(ReceiptReceived)}, make([]byte, 12)...)
	if _, err := Decode(msgtype.LegacyDeliveryReceipt, body); err == nil {
		t.Error("ragged ID list: want error")
	}
}

func TestEditDeleteRoundTrip(t *testing.T) {
	edit := Edit{MessageID: 7, Body: "fixed typo"}
	if got := roundTrip(t, edit); !reflect.DeepEqual(got, edit) {
		t.Errorf("edit: got %#v, want %#v", got, edit)
	}
	del := Delete{MessageID: 7}
	if got := roundTrip(t, del); !reflect.DeepEqual(got, del) {
		t.Errorf("delete: got %#v, want %#v", got, del)
	}
}

func TestTypingIndicator(t *testing.T) {
	for _, started := range []bool{true, false} {
		got := roundTrip(t, TypingIndicator{Started: started}).(TypingIndicator)
		if got.Started != started {
			t.Errorf("started = %v, want %v", got.Started, started)
		}
	}
}

func TestContactPhotoRoundTrip(t *testing.T) {
	msg := ContactSetPhoto{
		BlobID: bytes.Repeat([]byte{0x01}, 16),
		Size:   123456,
		Key:    bytes.Repeat([]byte{0x02}, 32),
	}
	if got := roundTrip(t, msg); !reflect.DeepEqual(got, msg) {
		t.Errorf("got %#v, want %#v", got, msg)
	}

	if _, _, err := Encode(ContactSetPhoto{BlobID: []byte{1}, Key: msg.Key}); err == nil {
		t.Error("short blob ID: want error")
	}

	if got := roundTrip(t, ContactDeletePhoto{}); got.Type() != msgtype.TypeContactDeletePhoto {
		t.Errorf("got %T", got)
	}
	if got := roundTrip(t, ContactRequestPhoto{}); got.Type() != msgtype.TypeContactRequestPhoto {
		t.Errorf("got %T", got)
	}
}

func TestCallPayloadOpaque(t *testing.T) {
	payload := []byte(`{"offer":{"sdp":"v=0"}}`)
	got := roundTrip(t, CallOffer{Payload: payload}).(CallOffer)
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload = %q, want %q", got.Payload, payload)
	}
}

func TestGroupHeader(t *testing.T) {
	group := GroupRef{CreatorIdentity: "AAAAAAAA", GroupID: 0x0102030405060708}
	msg := GroupText{GroupRef: group, Body: "hi all"}

	code, body, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if code != msgtype.LegacyGroupText {
		t.Errorf("legacy code = 0x%02x, want 0x%02x", byte(code), byte(msgtype.LegacyGroupText))
	}
	if string(body[:8]) != "AAAAAAAA" {
		t.Errorf("creator = %q", body[:8])
	}
	if binary.LittleEndian.Uint64(body[8:16]) != group.GroupID {
		t.Errorf("group ID = %x", body[8:16])
	}
	if string(body[16:]) != "hi all" {
		t.Errorf("body = %q", body[16:])
	}

	got := roundTrip(t, msg)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("got %#v, want %#v", got, msg)
	}
}

func TestGroupHeaderTooShort(t *testing.T) {
	_, err := Decode(msgtype.LegacyGroupText, []byte("AAAA"))
	var short *ShortBodyError
	if !errors.As(err, &short) {
		t.Fatalf("err = %v, want ShortBodyError", err)
	}
	if short.Want != 16 {
		t.Errorf("want field = %d, want 16", short.Want)
	}
}

func TestGroupVariantsRoundTrip(t *testing.T) {
	group := GroupRef{CreatorIdentity: "CREATOR1", GroupID: 99}
	msgs := []Message{
		GroupText{GroupRef: group, Body: "x"},
		GroupLocation{GroupRef: group, Location: Location{Latitude: 1, Longitude: 2, Name: "hq"}},
		GroupFile{GroupRef: group, File: File{
			BlobID: bytes.Repeat([]byte{9}, 16), Key: bytes.Repeat([]byte{8}, 32),
			MimeType: "text/plain", Name: "a.txt", Size: 3,
		}},
		GroupCreate{GroupRef: group, Members: []string{"MEMBER01", "MEMBER02"}},
		GroupRename{GroupRef: group, Name: "new name"},
		GroupLeave{GroupRef: group},
		GroupSetPhoto{GroupRef: group,
			BlobID: bytes.Repeat([]byte{7}, 16), Size: 44, Key: bytes.Repeat([]byte{6}, 32)},
		GroupDeletePhoto{GroupRef: group},
		GroupRequestSync{GroupRef: group},
		GroupBallotCreate{GroupRef: group,
			BallotCreate: BallotCreate{BallotID: 5, Title: "t", Choices: []string{"a"}}},
		GroupBallotVote{GroupRef: group,
			BallotVote: BallotVote{BallotID: 5, Choices: []int{0}}},
		GroupDeliveryReceipt{GroupRef: group,
			DeliveryReceipt: DeliveryReceipt{Kind: ReceiptAck, MessageIDs: []uint64{11}}},
		GroupEdit{GroupRef: group, Edit: Edit{MessageID: 3, Body: "edited"}},
		GroupDelete{GroupRef: group, Delete: Delete{MessageID: 3}},
		GroupCallStart{GroupRef: group, Payload: []byte(`{"gck":"..."}`)},
	}
	for _, want := range msgs {
		got := roundTrip(t, want)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%T: got %#v, want %#v", want, got, want)
		}
		gm, ok := got.(GroupMessage)
		if !ok {
			t.Errorf("%T does not implement GroupMessage", got)
			continue
		}
		if gm.Group() != group {
			t.Errorf("%T: group = %#v, want %#v", got, gm.Group(), group)
		}
	}
}

func TestGroupCreateBadMemberLength(t *testing.T) {
	group := GroupRef{CreatorIdentity: "CREATOR1", GroupID: 1}
	if _, _, err := Encode(GroupCreate{GroupRef: group, Members: []string{"SHORT"}}); err == nil {
		t.Error("short member identity: want error")
	}

	// A ragged member list on the wire is rejected too.
	body := appendGroupHeader(nil, group)
	body = append(body, "MEMBER01EXTRA"...)
	if _, err := Decode(msgtype.LegacyGroupCreate, body); err == nil {
		t.Error("ragged member list: want error")
	}
}

func TestDeprecatedDecodableNotEncodable(t *testing.T) {
	raw := []byte{1, 2, 3}
	got, err := Decode(msgtype.LegacyImage, raw)
	if err != nil {
		t.Fatal(err)
	}
	if img, ok := got.(DeprecatedImage); !ok || !bytes.Equal(img.Raw, raw) {
		t.Errorf("got %#v", got)
	}
	if _, _, err := Encode(DeprecatedImage{Raw: raw}); err == nil {
		t.Error("encoding a deprecated type: want error")
	}
}

func TestDecodeUnknownLegacyCode(t *testing.T) {
	if _, err := Decode(msgtype.Legacy(0x7f), nil); err == nil {
		t.Error("unknown legacy code: want error")
	}
}

// Control codes are known but carry no chat message; they must be
// rejected as such rather than misparsed as a group header.
func TestDecodeControlCodesRejected(t *testing.T) {
	for _, code := range []msgtype.Legacy{
		msgtype.LegacyForwardSecurity,
		msgtype.LegacyEmpty,
		msgtype.LegacyAuthToken,
	} {
		_, err := Decode(code, []byte("not a group header"))
		var notMsg *NotChatMessageError
		if !errors.As(err, &notMsg) {
			t.Errorf("Decode(0x%02x): got %v, want NotChatMessageError", byte(code), err)
		}
	}
}
