// Package processor applies decrypted device-to-device envelopes and
// incoming chat messages to the local store. It is the single place where
// message semantics (persistence, state updates, group membership changes,
// sync actions) are decided; transports and the task queue stay dumb.
package processor

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/msgtype"
)

var (
	// ErrUnhandledMessageType means a message type exists in the enumeration
	// but no handler covers it. Treated as a bug, not as data to skip.
	ErrUnhandledMessageType = errors.New("processor: unhandled message type")

	// ErrDeprecatedType rejects legacy media messages before any store call.
	ErrDeprecatedType = errors.New("processor: deprecated message type")

	// ErrReceiverNotFound means the 1:1 peer is not a known contact.
	ErrReceiverNotFound = errors.New("processor: receiver not found")

	// ErrGroupNotFound means the referenced group is not known locally.
	ErrGroupNotFound = errors.New("processor: group not found")

	// ErrMessageAlreadyProcessed means the message nonce is already in the
	// processed-nonce log. Callers should discard, not retry.
	ErrMessageAlreadyProcessed = errors.New("processor: message already processed")

	// ErrDoNotAckVoIP is returned when the call handler consumed an incoming
	// call message but asked for the server ack to be suppressed, so the
	// caller can ring again on reconnect.
	ErrDoNotAckVoIP = errors.New("processor: suppress ack for call message")
)

// MessageState is the delivery state of a stored message.
type MessageState string

const (
	StateNone      MessageState = ""
	StateSent      MessageState = "sent"
	StateDelivered MessageState = "delivered"
	StateRead      MessageState = "read"
	StateConsumed  MessageState = "consumed"
)

// Record is a chat message as the store keeps it. Exactly one of
// ContactIdentity and Group is set.
type Record struct {
	MessageID       uint64
	ContactIdentity string
	Group           *chatmsg.GroupRef
	Sender          string
	Type            msgtype.Type
	Body            []byte // legacy-encoded body
	CreatedAt       time.Time
	Incoming        bool
}

// MessageStore is the slice of the store the processor needs.
type MessageStore interface {
	HasContact(identity string) (bool, error)
	SaveContact(identity string, publicKey []byte, nickname string) error
	DeleteContact(identity string) error

	HasGroup(creator string, groupID uint64) (bool, error)
	UpsertGroup(creator string, groupID uint64, name string, members []string) error
	RenameGroup(creator string, groupID uint64, name string) error
	RemoveGroupMember(creator string, groupID uint64, identity string) error
	DeleteGroup(creator string, groupID uint64) error

	SaveMessage(*Record) error
	SetMessageState(messageID uint64, state MessageState) error
	EditMessageBody(messageID uint64, body string) error
	RemoveMessage(messageID uint64) error

	// SeenNonce records the nonce and reports whether it was already present.
	SeenNonce(nonce []byte) (bool, error)
}

// CallHandler receives VoIP signaling messages. Returning ack=false asks
// the caller to suppress the server ack so the call rings again on
// reconnect (offers typically, hangups never).
type CallHandler func(sender string, msg chatmsg.Message) (ack bool, err error)

// Processor dispatches decoded messages and reflected envelopes.
type Processor struct {
	store  MessageStore
	logger *log.Logger

	calls          CallHandler
	onMessage      func(in Incoming)
	onFileMessage  func(sender string, f chatmsg.File)
	enqueueReceipt func(recipient string, kind chatmsg.ReceiptKind, messageID uint64)
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger enables debug logging.
func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithCallHandler routes VoIP signaling to the call layer.
func WithCallHandler(h CallHandler) Option {
	return func(p *Processor) { p.calls = h }
}

// WithMessageHook is called after any incoming content message is
// persisted. Receipts, typing indicators and control messages do not fire
// the hook.
func WithMessageHook(h func(in Incoming)) Option {
	return func(p *Processor) { p.onMessage = h }
}

// WithFileHook is called after a file message is persisted, so the caller
// can start the blob download.
func WithFileHook(h func(sender string, f chatmsg.File)) Option {
	return func(p *Processor) { p.onFileMessage = h }
}

// WithReceiptEnqueuer is called after an incoming content message is
// persisted, so the caller can enqueue a delivery-receipt send task.
func WithReceiptEnqueuer(h func(recipient string, kind chatmsg.ReceiptKind, messageID uint64)) Option {
	return func(p *Processor) { p.enqueueReceipt = h }
}

func New(store MessageStore, opts ...Option) *Processor {
	p := &Processor{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Incoming is one message received from the chat server (or reflected from
// another device of the same account).
type Incoming struct {
	Sender    string
	MessageID uint64
	CreatedAt time.Time
	Nonce     []byte
	Msg       chatmsg.Message
}

// ProcessIncoming applies one incoming chat message. The returned error
// classifies the outcome; see the package errors.
func (p *Processor) ProcessIncoming(in Incoming) error {
	if isDeprecated(in.Msg) {
		return fmt.Errorf("%w: %v", ErrDeprecatedType, in.Msg.Type())
	}

	if len(in.Nonce) > 0 {
		seen, err := p.store.SeenNonce(in.Nonce)
		if err != nil {
			return fmt.Errorf("processor: nonce log: %w", err)
		}
		if seen {
			return ErrMessageAlreadyProcessed
		}
	}

	switch m := in.Msg.(type) {
	case chatmsg.Text, chatmsg.Location, chatmsg.File,
		chatmsg.BallotCreate, chatmsg.BallotVote:
		return p.persistContactMessage(in)

	case chatmsg.GroupText, chatmsg.GroupLocation, chatmsg.GroupFile,
		chatmsg.GroupBallotCreate, chatmsg.GroupBallotVote:
		return p.persistGroupMessage(in, m.(chatmsg.GroupMessage))

	case chatmsg.DeliveryReceipt:
		return p.applyReceipt(m)
	case chatmsg.GroupDeliveryReceipt:
		if err := p.requireGroup(m.Group()); err != nil {
			return err
		}
		return p.applyReceipt(m.DeliveryReceipt)

	case chatmsg.Edit:
		return p.store.EditMessageBody(m.MessageID, m.Body)
	case chatmsg.GroupEdit:
		if err := p.requireGroup(m.Group()); err != nil {
			return err
		}
		return p.store.EditMessageBody(m.MessageID, m.Body)

	case chatmsg.Delete:
		return p.store.RemoveMessage(m.MessageID)
	case chatmsg.GroupDelete:
		if err := p.requireGroup(m.Group()); err != nil {
			return err
		}
		return p.store.RemoveMessage(m.MessageID)

	case chatmsg.TypingIndicator:
		// Ephemeral; nothing to persist.
		logf(p.logger, "typing: %s started=%v", in.Sender, m.Started)
		return nil

	case chatmsg.GroupCreate:
		g := m.Group()
		return p.store.UpsertGroup(g.CreatorIdentity, g.GroupID, "", m.Members)
	case chatmsg.GroupRename:
		g := m.Group()
		if err := p.requireGroup(g); err != nil {
			return err
		}
		return p.store.RenameGroup(g.CreatorIdentity, g.GroupID, m.Name)
	case chatmsg.GroupLeave:
		g := m.Group()
		if err := p.requireGroup(g); err != nil {
			return err
		}
		return p.store.RemoveGroupMember(g.CreatorIdentity, g.GroupID, in.Sender)
	case chatmsg.GroupSetPhoto, chatmsg.GroupDeletePhoto:
		return p.requireGroup(m.(chatmsg.GroupMessage).Group())
	case chatmsg.GroupRequestSync:
		// Only the group creator answers sync requests; a secondary device
		// just observes them.
		logf(p.logger, "group sync requested by %s", in.Sender)
		return nil
	case chatmsg.GroupCallStart:
		return p.routeCall(in.Sender, m)

	case chatmsg.ContactSetPhoto, chatmsg.ContactDeletePhoto, chatmsg.ContactRequestPhoto:
		// Profile picture distribution is handled out of band by the blob
		// layer; the message itself is not a conversation entry.
		logf(p.logger, "profile photo message %v from %s", in.Msg.Type(), in.Sender)
		return nil

	case chatmsg.CallOffer, chatmsg.CallAnswer, chatmsg.CallICECandidate,
		chatmsg.CallHangup, chatmsg.CallRinging:
		return p.routeCall(in.Sender, m)

	case chatmsg.DeprecatedImage, chatmsg.DeprecatedVideo, chatmsg.DeprecatedAudio,
		chatmsg.GroupDeprecatedImage, chatmsg.GroupDeprecatedVideo, chatmsg.GroupDeprecatedAudio:
		return fmt.Errorf("%w: %v", ErrDeprecatedType, in.Msg.Type())
	}

	return fmt.Errorf("%w: %T", ErrUnhandledMessageType, in.Msg)
}

func (p *Processor) persistContactMessage(in Incoming) error {
	ok, err := p.store.HasContact(in.Sender)
	if err != nil {
		return fmt.Errorf("processor: contact lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, in.Sender)
	}
	_, body, err := chatmsg.Encode(in.Msg)
	if err != nil {
		return err
	}
	rec := &Record{
		MessageID:       in.MessageID,
		ContactIdentity: in.Sender,
		Sender:          in.Sender,
		Type:            in.Msg.Type(),
		Body:            body,
		CreatedAt:       in.CreatedAt,
		Incoming:        true,
	}
	if err := p.store.SaveMessage(rec); err != nil {
		return fmt.Errorf("processor: save message: %w", err)
	}
	p.afterPersist(in)
	return nil
}

func (p *Processor) persistGroupMessage(in Incoming, m chatmsg.GroupMessage) error {
	g := m.Group()
	if err := p.requireGroup(g); err != nil {
		return err
	}
	_, body, err := chatmsg.Encode(in.Msg)
	if err != nil {
		return err
	}
	rec := &Record{
		MessageID: in.MessageID,
		Group:     &g,
		Sender:    in.Sender,
		Type:      in.Msg.Type(),
		Body:      body,
		CreatedAt: in.CreatedAt,
		Incoming:  true,
	}
	if err := p.store.SaveMessage(rec); err != nil {
		return fmt.Errorf("processor: save group message: %w", err)
	}
	p.afterPersist(in)
	return nil
}

func (p *Processor) afterPersist(in Incoming) {
	if p.onMessage != nil {
		p.onMessage(in)
	}
	if p.enqueueReceipt != nil {
		p.enqueueReceipt(in.Sender, chatmsg.ReceiptReceived, in.MessageID)
	}
	if p.onFileMessage != nil {
		switch m := in.Msg.(type) {
		case chatmsg.File:
			p.onFileMessage(in.Sender, m)
		case chatmsg.GroupFile:
			p.onFileMessage(in.Sender, m.File)
		}
	}
}

func (p *Processor) requireGroup(g chatmsg.GroupRef) error {
	ok, err := p.store.HasGroup(g.CreatorIdentity, g.GroupID)
	if err != nil {
		return fmt.Errorf("processor: group lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrGroupNotFound, g.CreatorIdentity, g.GroupID)
	}
	return nil
}

func (p *Processor) applyReceipt(m chatmsg.DeliveryReceipt) error {
	state, ok := receiptState(m.Kind)
	if !ok {
		// Ack/decline reactions have no stored state transition yet; log
		// and move on rather than fail the whole envelope.
		logf(p.logger, "receipt kind 0x%02x for %d messages ignored", byte(m.Kind), len(m.MessageIDs))
		return nil
	}
	for _, id := range m.MessageIDs {
		if err := p.store.SetMessageState(id, state); err != nil {
			return fmt.Errorf("processor: receipt for %d: %w", id, err)
		}
	}
	return nil
}

func receiptState(k chatmsg.ReceiptKind) (MessageState, bool) {
	switch k {
	case chatmsg.ReceiptReceived:
		return StateDelivered, true
	case chatmsg.ReceiptRead:
		return StateRead, true
	case chatmsg.ReceiptConsumed:
		return StateConsumed, true
	}
	return StateNone, false
}

func (p *Processor) routeCall(sender string, msg chatmsg.Message) error {
	if p.calls == nil {
		logf(p.logger, "call message %v from %s dropped: no call handler", msg.Type(), sender)
		return nil
	}
	ack, err := p.calls(sender, msg)
	if err != nil {
		return fmt.Errorf("processor: call handler: %w", err)
	}
	if !ack {
		return ErrDoNotAckVoIP
	}
	return nil
}

func isDeprecated(m chatmsg.Message) bool {
	return msgtype.IsDeprecated(m.Type())
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
