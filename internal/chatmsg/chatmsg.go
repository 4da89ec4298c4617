// Package chatmsg models the decoded legacy chat messages as a closed sum
// type. The reflected message processor dispatches on the concrete type;
// keeping the set closed here means a message type added to the legacy
// enumeration without a corresponding handler shows up as a compile or
// test failure instead of a silent no-op.
package chatmsg

import (
	"github.com/chatmesh/mediator-go/internal/msgtype"
)

// IdentityLen is the fixed length of a chat identity on the wire.
const IdentityLen = 8

// MessageIDLen is the fixed length of a message ID on the wire.
const MessageIDLen = 8

// GroupRef identifies the group a group message belongs to.
type GroupRef struct {
	CreatorIdentity string // exactly IdentityLen characters
	GroupID         uint64
}

// Message is one decoded legacy chat message. The set of implementations
// in this package is the complete legacy message surface.
type Message interface {
	Type() msgtype.Type
}

// GroupMessage is implemented by all group-scoped messages.
type GroupMessage interface {
	Message
	Group() GroupRef
}

// Text is a 1:1 text message.
type Text struct {
	Body string
}

func (Text) Type() msgtype.Type { return msgtype.TypeText }

// Location is a 1:1 location message.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters, 0 when unknown
	Name      string  // POI name, optional
}

func (Location) Type() msgtype.Type { return msgtype.TypeLocation }

// File is a 1:1 file message. The descriptor is JSON on the wire; the blob
// itself is fetched separately via the blob server.
type File struct {
	BlobID   []byte `json:"b"`
	Key      []byte `json:"k"`
	MimeType string `json:"m"`
	Name     string `json:"n"`
	Size     uint64 `json:"s"`
}

func (File) Type() msgtype.Type { return msgtype.TypeFile }

// BallotCreate opens a poll in a 1:1 conversation.
type BallotCreate struct {
	BallotID uint64   `json:"-"` // carried in the binary prefix, not the JSON document
	Title    string   `json:"d"`
	Choices  []string `json:"c"`
}

func (BallotCreate) Type() msgtype.Type { return msgtype.TypeBallotCreate }

// BallotVote casts votes on an open poll.
type BallotVote struct {
	BallotID uint64 `json:"-"`
	Choices  []int  `json:"c"`
}

func (BallotVote) Type() msgtype.Type { return msgtype.TypeBallotVote }

// ReceiptKind is the kind of a delivery receipt.
type ReceiptKind byte

const (
	ReceiptReceived ReceiptKind = 0x01
	ReceiptRead     ReceiptKind = 0x02
	ReceiptAck      ReceiptKind = 0x03
	ReceiptDecline  ReceiptKind = 0x04
	ReceiptConsumed ReceiptKind = 0x05
)

// DeliveryReceipt confirms receipt/read/reaction state for messages.
type DeliveryReceipt struct {
	Kind       ReceiptKind
	MessageIDs []uint64
}

func (DeliveryReceipt) Type() msgtype.Type { return msgtype.TypeDeliveryReceipt }

// TypingIndicator signals typing started/stopped. Never reflected.
type TypingIndicator struct {
	Started bool
}

func (TypingIndicator) Type() msgtype.Type { return msgtype.TypeTypingIndicator }

// Edit replaces the body of an earlier message.
type Edit struct {
	MessageID uint64
	Body      string
}

func (Edit) Type() msgtype.Type { return msgtype.TypeEdit }

// Delete removes an earlier message for all parties.
type Delete struct {
	MessageID uint64
}

func (Delete) Type() msgtype.Type { return msgtype.TypeDelete }

// ContactSetPhoto distributes the sender's profile picture.
type ContactSetPhoto struct {
	BlobID []byte
	Size   uint32
	Key    []byte
}

func (ContactSetPhoto) Type() msgtype.Type { return msgtype.TypeContactSetPhoto }

// ContactDeletePhoto revokes the sender's profile picture.
type ContactDeletePhoto struct{}

func (ContactDeletePhoto) Type() msgtype.Type { return msgtype.TypeContactDeletePhoto }

// ContactRequestPhoto asks the receiver to re-send their profile picture.
type ContactRequestPhoto struct{}

func (ContactRequestPhoto) Type() msgtype.Type { return msgtype.TypeContactRequestPhoto }

// VoIP call signaling. Payloads are opaque JSON session descriptions
// consumed by the call layer, never persisted as chat messages.

type CallOffer struct{ Payload []byte }

func (CallOffer) Type() msgtype.Type { return msgtype.TypeVoIPCallOffer }

type CallAnswer struct{ Payload []byte }

func (CallAnswer) Type() msgtype.Type { return msgtype.TypeVoIPCallAnswer }

type CallICECandidate struct{ Payload []byte }

func (CallICECandidate) Type() msgtype.Type { return msgtype.TypeVoIPICECandidate }

type CallHangup struct{ Payload []byte }

func (CallHangup) Type() msgtype.Type { return msgtype.TypeVoIPCallHangup }

type CallRinging struct{ Payload []byte }

func (CallRinging) Type() msgtype.Type { return msgtype.TypeVoIPCallRinging }

// Deprecated media messages. Still decodable because very old clients may
// have them in their queues, but they are rejected before persistence.

type DeprecatedImage struct{ Raw []byte }

func (DeprecatedImage) Type() msgtype.Type { return msgtype.TypeDeprecatedImage }

type DeprecatedVideo struct{ Raw []byte }

func (DeprecatedVideo) Type() msgtype.Type { return msgtype.TypeDeprecatedVideo }

type DeprecatedAudio struct{ Raw []byte }

func (DeprecatedAudio) Type() msgtype.Type { return msgtype.TypeDeprecatedAudio }

// Group-scoped variants.

type GroupText struct {
	GroupRef
	Body string
}

func (GroupText) Type() msgtype.Type { return msgtype.TypeGroupText }
func (m GroupText) Group() GroupRef  { return m.GroupRef }

type GroupLocation struct {
	GroupRef
	Location
}

func (GroupLocation) Type() msgtype.Type { return msgtype.TypeGroupLocation }
func (m GroupLocation) Group() GroupRef  { return m.GroupRef }

type GroupFile struct {
	GroupRef
	File
}

func (GroupFile) Type() msgtype.Type { return msgtype.TypeGroupFile }
func (m GroupFile) Group() GroupRef  { return m.GroupRef }

type GroupCreate struct {
	GroupRef
	Members []string
}

func (GroupCreate) Type() msgtype.Type { return msgtype.TypeGroupCreate }
func (m GroupCreate) Group() GroupRef  { return m.GroupRef }

type GroupRename struct {
	GroupRef
	Name string
}

func (GroupRename) Type() msgtype.Type { return msgtype.TypeGroupRename }
func (m GroupRename) Group() GroupRef  { return m.GroupRef }

type GroupLeave struct {
	GroupRef
}

func (GroupLeave) Type() msgtype.Type { return msgtype.TypeGroupLeave }
func (m GroupLeave) Group() GroupRef  { return m.GroupRef }

type GroupSetPhoto struct {
	GroupRef
	BlobID []byte
	Size   uint32
	Key    []byte
}

func (GroupSetPhoto) Type() msgtype.Type { return msgtype.TypeGroupSetPhoto }
func (m GroupSetPhoto) Group() GroupRef  { return m.GroupRef }

type GroupDeletePhoto struct {
	GroupRef
}

func (GroupDeletePhoto) Type() msgtype.Type { return msgtype.TypeGroupDeletePhoto }
func (m GroupDeletePhoto) Group() GroupRef  { return m.GroupRef }

type GroupRequestSync struct {
	GroupRef
}

func (GroupRequestSync) Type() msgtype.Type { return msgtype.TypeGroupRequestSync }
func (m GroupRequestSync) Group() GroupRef  { return m.GroupRef }

type GroupBallotCreate struct {
	GroupRef
	BallotCreate
}

func (GroupBallotCreate) Type() msgtype.Type { return msgtype.TypeGroupBallotCreate }
func (m GroupBallotCreate) Group() GroupRef  { return m.GroupRef }

type GroupBallotVote struct {
	GroupRef
	BallotVote
}

func (GroupBallotVote) Type() msgtype.Type { return msgtype.TypeGroupBallotVote }
func (m GroupBallotVote) Group() GroupRef  { return m.GroupRef }

type GroupDeliveryReceipt struct {
	GroupRef
	DeliveryReceipt
}

func (GroupDeliveryReceipt) Type() msgtype.Type { return msgtype.TypeGroupDeliveryReceipt }
func (m GroupDeliveryReceipt) Group() GroupRef  { return m.GroupRef }

type GroupEdit struct {
	GroupRef
	Edit
}

func (GroupEdit) Type() msgtype.Type { return msgtype.TypeGroupEdit }
func (m GroupEdit) Group() GroupRef  { return m.GroupRef }

type GroupDelete struct {
	GroupRef
	Delete
}

func (GroupDelete) Type() msgtype.Type { return msgtype.TypeGroupDelete }
func (m GroupDelete) Group() GroupRef  { return m.GroupRef }

type GroupCallStart struct {
	GroupRef
	Payload []byte
}

func (GroupCallStart) Type() msgtype.Type { return msgtype.TypeGroupCallStart }
func (m GroupCallStart) Group() GroupRef  { return m.GroupRef }

type GroupDeprecatedImage struct {
	GroupRef
	Raw []byte
}

func (GroupDeprecatedImage) Type() msgtype.Type { return msgtype.TypeGroupDeprecatedImage }
func (m GroupDeprecatedImage) Group() GroupRef  { return m.GroupRef }

type GroupDeprecatedVideo struct {
	GroupRef
	Raw []byte
}

func (GroupDeprecatedVideo) Type() msgtype.Type { return msgtype.TypeGroupDeprecatedVideo }
func (m GroupDeprecatedVideo) Group() GroupRef  { return m.GroupRef }

type GroupDeprecatedAudio struct {
	GroupRef
	Raw []byte
}

func (GroupDeprecatedAudio) Type() msgtype.Type { return msgtype.TypeGroupDeprecatedAudio }
func (m GroupDeprecatedAudio) Group() GroupRef  { return m.GroupRef }
