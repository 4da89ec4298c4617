package processor

import (
	"fmt"
	"time"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/d2dproto"
	"github.com/chatmesh/mediator-go/internal/msgtype"
)

// ProcessEnvelope applies one decrypted reflected envelope. Reflected
// envelopes describe what another device of the same account did, so
// outgoing messages are persisted as our own sends and incoming ones go
// through the same path as live receives (minus the server ack).
func (p *Processor) ProcessEnvelope(env *d2dproto.Envelope) error {
	switch c := env.Content.(type) {
	case *d2dproto.IncomingMessage:
		msg, err := chatmsg.Decode(msgtype.Legacy(c.Type), c.Body)
		if err != nil {
			return err
		}
		return p.ProcessIncoming(Incoming{
			Sender:    c.SenderIdentity,
			MessageID: c.MessageID,
			CreatedAt: millisToTime(c.CreatedAt),
			Nonce:     c.Nonce,
			Msg:       msg,
		})

	case *d2dproto.OutgoingMessage:
		return p.applyReflectedOutgoing(c)

	case *d2dproto.OutgoingMessageUpdate:
		return p.applyUpdate(c.MessageID, c.Kind, c.Payload)

	case *d2dproto.IncomingMessageUpdate:
		return p.applyUpdate(c.MessageID, c.Kind, nil)

	case *d2dproto.ContactSync:
		return p.applyContactSync(c)

	case *d2dproto.GroupSync:
		return p.applyGroupSync(c)

	case *d2dproto.SettingsSync:
		logf(p.logger, "settings sync: contacts=%d unknown=%d read=%d typing=%d",
			c.ContactSyncPolicy, c.UnknownContactPolicy, c.ReadReceiptPolicy, c.TypingIndicatorPolicy)
		return nil

	case *d2dproto.UserProfileSync:
		logf(p.logger, "profile sync: nickname=%q picture=%d bytes",
			c.Nickname, len(c.ProfilePictureID))
		return nil

	case *d2dproto.MdmParameterSync:
		logf(p.logger, "mdm sync: %d parameters", len(c.Parameters))
		return nil
	}

	return fmt.Errorf("processor: unsupported envelope content %T", env.Content)
}

func (p *Processor) applyReflectedOutgoing(c *d2dproto.OutgoingMessage) error {
	msg, err := chatmsg.Decode(msgtype.Legacy(c.Type), c.Body)
	if err != nil {
		return err
	}
	if isDeprecated(msg) {
		return fmt.Errorf("%w: %v", ErrDeprecatedType, msg.Type())
	}

	rec := &Record{
		MessageID: c.MessageID,
		Type:      msg.Type(),
		Body:      c.Body,
		CreatedAt: millisToTime(c.CreatedAt),
	}
	switch {
	case c.Conversation.Group != nil:
		g := chatmsg.GroupRef{
			CreatorIdentity: c.Conversation.Group.CreatorIdentity,
			GroupID:         c.Conversation.Group.GroupID,
		}
		if err := p.requireGroup(g); err != nil {
			return err
		}
		rec.Group = &g
	case c.Conversation.Contact != "":
		ok, err := p.store.HasContact(c.Conversation.Contact)
		if err != nil {
			return fmt.Errorf("processor: contact lookup: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrReceiverNotFound, c.Conversation.Contact)
		}
		rec.ContactIdentity = c.Conversation.Contact
	default:
		return fmt.Errorf("processor: reflected outgoing message %d has no conversation", c.MessageID)
	}

	// Control messages mirrored from another device mutate state instead of
	// landing in the conversation.
	switch m := msg.(type) {
	case chatmsg.GroupCreate:
		g := m.Group()
		return p.store.UpsertGroup(g.CreatorIdentity, g.GroupID, "", m.Members)
	case chatmsg.GroupRename:
		g := m.Group()
		return p.store.RenameGroup(g.CreatorIdentity, g.GroupID, m.Name)
	case chatmsg.DeliveryReceipt:
		return p.applyReceipt(m)
	case chatmsg.GroupDeliveryReceipt:
		return p.applyReceipt(m.DeliveryReceipt)
	case chatmsg.Edit:
		return p.store.EditMessageBody(m.MessageID, m.Body)
	case chatmsg.GroupEdit:
		return p.store.EditMessageBody(m.MessageID, m.Body)
	case chatmsg.Delete:
		return p.store.RemoveMessage(m.MessageID)
	case chatmsg.GroupDelete:
		return p.store.RemoveMessage(m.MessageID)
	case chatmsg.TypingIndicator:
		return nil
	}

	if err := p.store.SaveMessage(rec); err != nil {
		return fmt.Errorf("processor: save reflected message: %w", err)
	}
	return nil
}

func (p *Processor) applyUpdate(messageID uint64, kind d2dproto.UpdateKind, payload []byte) error {
	switch kind {
	case d2dproto.UpdateSent:
		return p.store.SetMessageState(messageID, StateSent)
	case d2dproto.UpdateDelivered:
		return p.store.SetMessageState(messageID, StateDelivered)
	case d2dproto.UpdateRead:
		return p.store.SetMessageState(messageID, StateRead)
	case d2dproto.UpdateEdited:
		return p.store.EditMessageBody(messageID, string(payload))
	case d2dproto.UpdateDeleted:
		return p.store.RemoveMessage(messageID)
	case d2dproto.UpdateReaction:
		logf(p.logger, "reaction update for message %d (%d bytes)", messageID, len(payload))
		return nil
	}
	return fmt.Errorf("processor: unknown message update kind %d", kind)
}

func (p *Processor) applyContactSync(c *d2dproto.ContactSync) error {
	switch c.Action {
	case d2dproto.SyncCreate, d2dproto.SyncUpdate:
		return p.store.SaveContact(c.Contact.Identity, c.Contact.PublicKey, c.Contact.Nickname)
	case d2dproto.SyncDelete:
		return p.store.DeleteContact(c.Contact.Identity)
	}
	return fmt.Errorf("processor: unknown contact sync action %d", c.Action)
}

func (p *Processor) applyGroupSync(c *d2dproto.GroupSync) error {
	id := c.Group.Identity
	switch c.Action {
	case d2dproto.SyncCreate, d2dproto.SyncUpdate:
		return p.store.UpsertGroup(id.CreatorIdentity, id.GroupID, c.Group.Name, c.Group.Members)
	case d2dproto.SyncDelete:
		return p.store.DeleteGroup(id.CreatorIdentity, id.GroupID)
	}
	return fmt.Errorf("processor: unknown group sync action %d", c.Action)
}

func millisToTime(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}
