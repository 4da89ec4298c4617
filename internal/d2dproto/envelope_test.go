package d2dproto

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func roundTrip(t *testing.T, env *Envelope) *Envelope {
	t.Helper()
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dec := new(Envelope)
	if err := dec.Unmarshal(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return dec
}

func TestEnvelopeOutgoingMessageRoundTrip(t *testing.T) {
	env := &Envelope{
		DeviceID: 0x0123456789ab,
		Content: &OutgoingMessage{
			Conversation: Conversation{Contact: "CONTACT2"},
			MessageID:    0xfeedface,
			CreatedAt:    1710000000000,
			Type:         0x01,
			Body:         []byte("hello"),
			Nonces:       [][]byte{bytes.Repeat([]byte{7}, 24)},
		},
	}
	dec := roundTrip(t, env)
	if dec.DeviceID != env.DeviceID {
		t.Errorf("deviceID = %d, want %d", dec.DeviceID, env.DeviceID)
	}
	om, ok := dec.Content.(*OutgoingMessage)
	if !ok {
		t.Fatalf("content type = %T, want *OutgoingMessage", dec.Content)
	}
	if !reflect.DeepEqual(om, env.Content) {
		t.Errorf("outgoing message mismatch:\n got %+v\nwant %+v", om, env.Content)
	}
}

func TestEnvelopeGroupConversationRoundTrip(t *testing.T) {
	env := &Envelope{
		DeviceID: 1,
		Content: &OutgoingMessage{
			Conversation: Conversation{
				Group: &GroupIdentity{GroupID: 0xabcdef, CreatorIdentity: "CREATOR1"},
			},
			MessageID: 2,
			Type:      0x41,
			Body:      []byte("group text"),
		},
	}
	dec := roundTrip(t, env)
	om := dec.Content.(*OutgoingMessage)
	if om.Conversation.Group == nil {
		t.Fatal("group conversation lost")
	}
	if om.Conversation.Group.CreatorIdentity != "CREATOR1" || om.Conversation.Group.GroupID != 0xabcdef {
		t.Errorf("group identity = %+v", om.Conversation.Group)
	}
}

func TestEnvelopeIncomingMessageRoundTrip(t *testing.T) {
	env := &Envelope{
		DeviceID: 9,
		Content: &IncomingMessage{
			SenderIdentity: "CONTACT1",
			MessageID:      77,
			CreatedAt:      1700000000001,
			Type:           0x10,
			Body:           []byte("52.3676,4.9041"),
			Nonce:          bytes.Repeat([]byte{3}, 24),
		},
	}
	dec := roundTrip(t, env)
	if !reflect.DeepEqual(dec.Content, env.Content) {
		t.Errorf("incoming message mismatch:\n got %+v\nwant %+v", dec.Content, env.Content)
	}
}

func TestEnvelopeSyncVariantsRoundTrip(t *testing.T) {
	contents := []Content{
		&ContactSync{
			Action:  SyncCreate,
			Contact: Contact{Identity: "CONTACT3", PublicKey: bytes.Repeat([]byte{1}, 32), Nickname: "nick"},
		},
		&GroupSync{
			Action: SyncUpdate,
			Group: Group{
				Identity: GroupIdentity{GroupID: 5, CreatorIdentity: "CREATOR1"},
				Name:     "renamed",
				Members:  []string{"CONTACT1", "CONTACT2"},
			},
		},
		&SettingsSync{ContactSyncPolicy: 1, ReadReceiptPolicy: 2},
		&UserProfileSync{Nickname: "me", ProfilePictureID: []byte{9, 9}},
		&MdmParameterSync{Parameters: map[string]string{"th_disable_calls": "1", "th_nickname": "work"}},
		&OutgoingMessageUpdate{
			Conversation: Conversation{Contact: "CONTACT2"},
			MessageID:    8,
			Kind:         UpdateEdited,
			At:           123456,
			Payload:      []byte("edited body"),
		},
		&IncomingMessageUpdate{
			Conversation: Conversation{Contact: "CONTACT1"},
			MessageID:    9,
			Kind:         UpdateRead,
			At:           123457,
		},
	}
	for _, c := range contents {
		env := &Envelope{DeviceID: 4, Content: c}
		dec := roundTrip(t, env)
		if !reflect.DeepEqual(dec.Content, c) {
			t.Errorf("%T mismatch:\n got %+v\nwant %+v", c, dec.Content, c)
		}
	}
}

func TestEnvelopePaddingPreserved(t *testing.T) {
	env := &Envelope{
		DeviceID: 1,
		Padding:  bytes.Repeat([]byte{0}, 17),
		Content:  &SettingsSync{ReadReceiptPolicy: 1},
	}
	dec := roundTrip(t, env)
	if len(dec.Padding) != 17 {
		t.Errorf("padding length = %d, want 17", len(dec.Padding))
	}
}

func TestEnvelopeNoContent(t *testing.T) {
	if _, err := (&Envelope{DeviceID: 1}).Marshal(); !errors.Is(err, ErrNoContent) {
		t.Errorf("marshal without content: got %v, want ErrNoContent", err)
	}

	var raw []byte
	raw = protowire.AppendTag(raw, fieldDeviceID, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 3)
	if err := new(Envelope).Unmarshal(raw); !errors.Is(err, ErrNoContent) {
		t.Errorf("unmarshal without content: got %v, want ErrNoContent", err)
	}
}

func TestEnvelopeSkipsUnknownFields(t *testing.T) {
	env := &Envelope{DeviceID: 2, Content: &UserProfileSync{Nickname: "x"}}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	// A newer peer adds field 50.
	raw = protowire.AppendTag(raw, 50, protowire.BytesType)
	raw = protowire.AppendBytes(raw, []byte("future"))

	dec := new(Envelope)
	if err := dec.Unmarshal(raw); err != nil {
		t.Fatalf("unmarshal with unknown field: %v", err)
	}
	if dec.DeviceID != 2 {
		t.Errorf("deviceID = %d, want 2", dec.DeviceID)
	}
}

func TestEnvelopeTruncated(t *testing.T) {
	env := &Envelope{DeviceID: 2, Content: &UserProfileSync{Nickname: "long enough nickname"}}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := new(Envelope).Unmarshal(raw[:len(raw)-3]); err == nil {
		t.Error("truncated envelope decoded without error")
	}
}
