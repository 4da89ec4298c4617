package taskdef

import (
	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/d2dproto"
)

// Send-style tasks are persistent and retryable: an outbound message must
// survive a crash and must tolerate a flaky connection.

func persistentRetryable() Base {
	return Base{Type: Persistent, Retry: true}
}

// SendText sends a 1:1 or group text message.
type SendText struct {
	Base
	Recipient string            `cbor:"recipient,omitempty"`
	Group     *chatmsg.GroupRef `cbor:"group,omitempty"`
	MessageID uint64            `cbor:"messageId"`
	Body      string            `cbor:"body"`
}

func NewSendText(recipient, body string, messageID uint64) *SendText {
	return &SendText{Base: persistentRetryable(), Recipient: recipient, Body: body, MessageID: messageID}
}

func NewSendGroupText(group chatmsg.GroupRef, body string, messageID uint64) *SendText {
	return &SendText{Base: persistentRetryable(), Group: &group, Body: body, MessageID: messageID}
}

func (*SendText) TaskName() string  { return "send-text" }
func (t *SendText) TaskBase() *Base { return &t.Base }

// SendLocation sends a location message.
type SendLocation struct {
	Base
	Recipient string            `cbor:"recipient,omitempty"`
	Group     *chatmsg.GroupRef `cbor:"group,omitempty"`
	MessageID uint64            `cbor:"messageId"`
	Location  chatmsg.Location  `cbor:"location"`
}

func NewSendLocation(recipient string, loc chatmsg.Location, messageID uint64) *SendLocation {
	return &SendLocation{Base: persistentRetryable(), Recipient: recipient, Location: loc, MessageID: messageID}
}

func (*SendLocation) TaskName() string  { return "send-location" }
func (t *SendLocation) TaskBase() *Base { return &t.Base }

// SendBallot opens a poll.
type SendBallot struct {
	Base
	Recipient string               `cbor:"recipient,omitempty"`
	Group     *chatmsg.GroupRef    `cbor:"group,omitempty"`
	MessageID uint64               `cbor:"messageId"`
	Ballot    chatmsg.BallotCreate `cbor:"ballot"`
}

func NewSendBallot(recipient string, ballot chatmsg.BallotCreate, messageID uint64) *SendBallot {
	return &SendBallot{Base: persistentRetryable(), Recipient: recipient, Ballot: ballot, MessageID: messageID}
}

func (*SendBallot) TaskName() string  { return "send-ballot" }
func (t *SendBallot) TaskBase() *Base { return &t.Base }

// SendDeliveryReceipt confirms received/read state to a peer.
type SendDeliveryReceipt struct {
	Base
	Recipient  string              `cbor:"recipient"`
	Kind       chatmsg.ReceiptKind `cbor:"kind"`
	MessageIDs []uint64            `cbor:"messageIds"`
}

func NewSendDeliveryReceipt(recipient string, kind chatmsg.ReceiptKind, ids []uint64) *SendDeliveryReceipt {
	return &SendDeliveryReceipt{Base: persistentRetryable(), Recipient: recipient, Kind: kind, MessageIDs: ids}
}

func (*SendDeliveryReceipt) TaskName() string  { return "send-delivery-receipt" }
func (t *SendDeliveryReceipt) TaskBase() *Base { return &t.Base }

// Group control tasks. All persistent; a half-applied group mutation on a
// crashed device is worse than a retried one.

type GroupCreate struct {
	Base
	Group   chatmsg.GroupRef `cbor:"group"`
	Name    string           `cbor:"name"`
	Members []string         `cbor:"members"`
}

func NewGroupCreate(group chatmsg.GroupRef, name string, members []string) *GroupCreate {
	return &GroupCreate{Base: persistentRetryable(), Group: group, Name: name, Members: members}
}

func (*GroupCreate) TaskName() string  { return "group-create" }
func (t *GroupCreate) TaskBase() *Base { return &t.Base }

type GroupRename struct {
	Base
	Group chatmsg.GroupRef `cbor:"group"`
	Name  string           `cbor:"name"`
}

func NewGroupRename(group chatmsg.GroupRef, name string) *GroupRename {
	return &GroupRename{Base: persistentRetryable(), Group: group, Name: name}
}

func (*GroupRename) TaskName() string  { return "group-rename" }
func (t *GroupRename) TaskBase() *Base { return &t.Base }

type GroupSetPhoto struct {
	Base
	Group  chatmsg.GroupRef `cbor:"group"`
	BlobID []byte           `cbor:"blobId"`
	Size   uint32           `cbor:"size"`
	Key    []byte           `cbor:"key"`
}

func NewGroupSetPhoto(group chatmsg.GroupRef, blobID []byte, size uint32, key []byte) *GroupSetPhoto {
	return &GroupSetPhoto{Base: persistentRetryable(), Group: group, BlobID: blobID, Size: size, Key: key}
}

func (*GroupSetPhoto) TaskName() string  { return "group-set-photo" }
func (t *GroupSetPhoto) TaskBase() *Base { return &t.Base }

type GroupLeave struct {
	Base
	Group chatmsg.GroupRef `cbor:"group"`
}

func NewGroupLeave(group chatmsg.GroupRef) *GroupLeave {
	return &GroupLeave{Base: persistentRetryable(), Group: group}
}

func (*GroupLeave) TaskName() string  { return "group-leave" }
func (t *GroupLeave) TaskBase() *Base { return &t.Base }

// GroupDissolve disbands a group we created: a leave message to every
// member followed by local deletion.
type GroupDissolve struct {
	Base
	Group   chatmsg.GroupRef `cbor:"group"`
	Members []string         `cbor:"members"`
}

func NewGroupDissolve(group chatmsg.GroupRef, members []string) *GroupDissolve {
	return &GroupDissolve{Base: persistentRetryable(), Group: group, Members: members}
}

func (*GroupDissolve) TaskName() string  { return "group-dissolve" }
func (t *GroupDissolve) TaskBase() *Base { return &t.Base }

// Sync tasks reflect local state to the device group.

type ProfileSync struct {
	Base
	Profile d2dproto.UserProfileSync `cbor:"profile"`
}

func NewProfileSync(profile d2dproto.UserProfileSync) *ProfileSync {
	return &ProfileSync{Base: persistentRetryable(), Profile: profile}
}

func (*ProfileSync) TaskName() string  { return "profile-sync" }
func (t *ProfileSync) TaskBase() *Base { return &t.Base }

type SettingsSync struct {
	Base
	Settings d2dproto.SettingsSync `cbor:"settings"`
}

func NewSettingsSync(settings d2dproto.SettingsSync) *SettingsSync {
	return &SettingsSync{Base: persistentRetryable(), Settings: settings}
}

func (*SettingsSync) TaskName() string  { return "settings-sync" }
func (t *SettingsSync) TaskBase() *Base { return &t.Base }

type ContactSync struct {
	Base
	Action  d2dproto.SyncAction `cbor:"action"`
	Contact d2dproto.Contact    `cbor:"contact"`
}

func NewContactSync(action d2dproto.SyncAction, contact d2dproto.Contact) *ContactSync {
	return &ContactSync{Base: persistentRetryable(), Action: action, Contact: contact}
}

func (*ContactSync) TaskName() string  { return "contact-sync" }
func (t *ContactSync) TaskBase() *Base { return &t.Base }

// Inbound tasks.

// ReceiveMessage processes one message delivered by the chat server within
// the current connection. It is dropped on disconnect: the server redelivers
// unacked messages on the next connect, so carrying it across sessions
// would only produce duplicates.
type ReceiveMessage struct {
	Base
	Sender    string `cbor:"sender"`
	MessageID uint64 `cbor:"messageId"`
	CreatedAt uint64 `cbor:"createdAt"`
	TypeCode  uint64 `cbor:"typeCode"`
	Body      []byte `cbor:"body"`
	Nonce     []byte `cbor:"nonce"`
}

func NewReceiveMessage(sender string, messageID, createdAt, typeCode uint64, body, nonce []byte) *ReceiveMessage {
	return &ReceiveMessage{
		Base:      Base{Type: DropOnDisconnect, Retry: false},
		Sender:    sender,
		MessageID: messageID,
		CreatedAt: createdAt,
		TypeCode:  typeCode,
		Body:      body,
		Nonce:     nonce,
	}
}

func (*ReceiveMessage) TaskName() string  { return "receive-message" }
func (t *ReceiveMessage) TaskBase() *Base { return &t.Base }

// ReceiveReflectedMessage processes one reflected frame from the mediator.
// Volatile and non-retryable: a reflected frame that fails to process is
// acked anyway so the reflection queue keeps draining; the mediator holds
// the authoritative copy.
type ReceiveReflectedMessage struct {
	Base
	Frame []byte `cbor:"frame"`
}

func NewReceiveReflectedMessage(frame []byte) *ReceiveReflectedMessage {
	return &ReceiveReflectedMessage{
		Base:  Base{Type: Volatile, Retry: false},
		Frame: frame,
	}
}

func (*ReceiveReflectedMessage) TaskName() string  { return "receive-reflected-message" }
func (t *ReceiveReflectedMessage) TaskBase() *Base { return &t.Base }

// ForwardSecurityRefresh renegotiates a forward-security session with one
// peer. Useful only while the triggering connection lives.
type ForwardSecurityRefresh struct {
	Base
	Recipient string `cbor:"recipient"`
}

func NewForwardSecurityRefresh(recipient string) *ForwardSecurityRefresh {
	return &ForwardSecurityRefresh{
		Base:      Base{Type: DropOnDisconnect, Retry: true},
		Recipient: recipient,
	}
}

func (*ForwardSecurityRefresh) TaskName() string  { return "forward-security-refresh" }
func (t *ForwardSecurityRefresh) TaskBase() *Base { return &t.Base }
