package mediator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/d2dproto"
	"github.com/chatmesh/mediator-go/internal/mediatorcrypto"
	"github.com/chatmesh/mediator-go/internal/mediatorframe"
	"github.com/chatmesh/mediator-go/internal/msgtype"
	"github.com/chatmesh/mediator-go/internal/processor"
	"github.com/chatmesh/mediator-go/internal/taskdef"
	"github.com/chatmesh/mediator-go/internal/taskqueue"
)

// execute runs one task from the queue. Outbound message tasks follow the
// reflect-first rule: the envelope goes to the mediator and is acked before
// the message leaves toward the chat server, so the other devices never miss
// a message the chat server already delivered.
func (c *Client) execute(ctx context.Context, task taskdef.Task) error {
	switch t := task.(type) {
	case *taskdef.SendText:
		return c.runSend(ctx, t.TaskBase(), t.Recipient, t.Group, t.MessageID,
			func(g *chatmsg.GroupRef) chatmsg.Message {
				if g != nil {
					return chatmsg.GroupText{GroupRef: *g, Body: t.Body}
				}
				return chatmsg.Text{Body: t.Body}
			})

	case *taskdef.SendLocation:
		return c.runSend(ctx, t.TaskBase(), t.Recipient, t.Group, t.MessageID,
			func(g *chatmsg.GroupRef) chatmsg.Message {
				if g != nil {
					return chatmsg.GroupLocation{GroupRef: *g, Location: t.Location}
				}
				return t.Location
			})

	case *taskdef.SendBallot:
		return c.runSend(ctx, t.TaskBase(), t.Recipient, t.Group, t.MessageID,
			func(g *chatmsg.GroupRef) chatmsg.Message {
				if g != nil {
					return chatmsg.GroupBallotCreate{GroupRef: *g, BallotCreate: t.Ballot}
				}
				return t.Ballot
			})

	case *taskdef.SendDeliveryReceipt:
		return c.runReceipt(ctx, t)

	case *taskdef.GroupCreate:
		return c.runGroupCreate(ctx, t)
	case *taskdef.GroupRename:
		return c.runGroupRename(ctx, t)
	case *taskdef.GroupSetPhoto:
		return c.runGroupSetPhoto(ctx, t)
	case *taskdef.GroupLeave:
		return c.runGroupLeave(ctx, t)
	case *taskdef.GroupDissolve:
		return c.runGroupDissolve(ctx, t)

	case *taskdef.ProfileSync:
		return c.reflectOnly(ctx, &t.Profile)
	case *taskdef.SettingsSync:
		return c.reflectOnly(ctx, &t.Settings)
	case *taskdef.ContactSync:
		return c.runContactSync(ctx, t)

	case *taskdef.ReceiveMessage:
		return c.runReceive(ctx, t)
	case *taskdef.ReceiveReflectedMessage:
		return c.runReceiveReflected(ctx, t)

	case *taskdef.ForwardSecurityRefresh:
		return c.runForwardSecurityRefresh(ctx, t)
	}
	return fmt.Errorf("mediator: no executor for task %q", task.TaskName())
}

// runSend is the shared path for outbound content messages. The build
// callback produces the 1:1 or group variant of the message; recipients are
// resolved from the store for groups.
func (c *Client) runSend(ctx context.Context, base *taskdef.Base, recipient string, group *chatmsg.GroupRef, messageID uint64, build func(*chatmsg.GroupRef) chatmsg.Message) error {
	msg := build(group)
	recipients, err := c.resolveRecipients(recipient, group)
	if err != nil {
		return err
	}

	createdAt := time.Now()
	if err := c.reflectOutgoing(ctx, base, msg, messageID, createdAt, recipients); err != nil {
		return err
	}
	for _, r := range recipients {
		if err := c.sendChatMessage(ctx, base, r, messageID, createdAt, msg); err != nil {
			return err
		}
	}

	rec := &processor.Record{
		MessageID:       messageID,
		ContactIdentity: recipient,
		Group:           group,
		Sender:          c.identity,
		Type:            msg.Type(),
		CreatedAt:       createdAt,
		Incoming:        false,
	}
	if _, rec.Body, err = chatmsg.Encode(msg); err != nil {
		return err
	}
	if err := c.store.SaveMessage(rec); err != nil {
		return fmt.Errorf("mediator: save sent message: %w", err)
	}
	return nil
}

// runReceipt sends a delivery receipt. Receipts are not persisted as
// conversation entries; read receipts update the local state of the
// referenced messages instead.
func (c *Client) runReceipt(ctx context.Context, t *taskdef.SendDeliveryReceipt) error {
	msg := chatmsg.DeliveryReceipt{Kind: t.Kind, MessageIDs: t.MessageIDs}
	createdAt := time.Now()
	messageID, err := taskdef.NewMessageID()
	if err != nil {
		return err
	}
	if err := c.reflectOutgoing(ctx, t.TaskBase(), msg, messageID, createdAt, []string{t.Recipient}); err != nil {
		return err
	}
	if err := c.sendChatMessage(ctx, t.TaskBase(), t.Recipient, messageID, createdAt, msg); err != nil {
		return err
	}
	if t.Kind == chatmsg.ReceiptRead {
		for _, id := range t.MessageIDs {
			if err := c.store.SetMessageState(id, processor.StateRead); err != nil {
				logf(c.logger, "mark message %x read: %v", id, err)
			}
		}
	}
	return nil
}

func (c *Client) runGroupCreate(ctx context.Context, t *taskdef.GroupCreate) error {
	msg := chatmsg.GroupCreate{GroupRef: t.Group, Members: t.Members}
	if err := c.fanOutGroupControl(ctx, t.TaskBase(), t.Group, otherMembers(t.Members, c.identity), msg); err != nil {
		return err
	}
	if t.Name != "" {
		rename := chatmsg.GroupRename{GroupRef: t.Group, Name: t.Name}
		if err := c.fanOutGroupControl(ctx, t.TaskBase(), t.Group, otherMembers(t.Members, c.identity), rename); err != nil {
			return err
		}
	}
	if err := c.store.UpsertGroup(t.Group.CreatorIdentity, t.Group.GroupID, t.Name, t.Members); err != nil {
		return fmt.Errorf("mediator: create group: %w", err)
	}
	return nil
}

func (c *Client) runGroupRename(ctx context.Context, t *taskdef.GroupRename) error {
	members, err := c.groupMembers(t.Group)
	if err != nil {
		return err
	}
	msg := chatmsg.GroupRename{GroupRef: t.Group, Name: t.Name}
	if err := c.fanOutGroupControl(ctx, t.TaskBase(), t.Group, members, msg); err != nil {
		return err
	}
	if err := c.store.RenameGroup(t.Group.CreatorIdentity, t.Group.GroupID, t.Name); err != nil {
		return fmt.Errorf("mediator: rename group: %w", err)
	}
	return nil
}

func (c *Client) runGroupSetPhoto(ctx context.Context, t *taskdef.GroupSetPhoto) error {
	members, err := c.groupMembers(t.Group)
	if err != nil {
		return err
	}
	msg := chatmsg.GroupSetPhoto{GroupRef: t.Group, BlobID: t.BlobID, Size: t.Size, Key: t.Key}
	return c.fanOutGroupControl(ctx, t.TaskBase(), t.Group, members, msg)
}

func (c *Client) runGroupLeave(ctx context.Context, t *taskdef.GroupLeave) error {
	members, err := c.groupMembers(t.Group)
	if err != nil {
		return err
	}
	msg := chatmsg.GroupLeave{GroupRef: t.Group}
	if err := c.fanOutGroupControl(ctx, t.TaskBase(), t.Group, members, msg); err != nil {
		return err
	}
	if err := c.store.RemoveGroupMember(t.Group.CreatorIdentity, t.Group.GroupID, c.identity); err != nil {
		return fmt.Errorf("mediator: leave group: %w", err)
	}
	return nil
}

// runGroupDissolve disbands a group this account created: every member gets
// a leave, then the group is removed locally.
func (c *Client) runGroupDissolve(ctx context.Context, t *taskdef.GroupDissolve) error {
	msg := chatmsg.GroupLeave{GroupRef: t.Group}
	if err := c.fanOutGroupControl(ctx, t.TaskBase(), t.Group, otherMembers(t.Members, c.identity), msg); err != nil {
		return err
	}
	if err := c.store.DeleteGroup(t.Group.CreatorIdentity, t.Group.GroupID); err != nil {
		return fmt.Errorf("mediator: dissolve group: %w", err)
	}
	return nil
}

// fanOutGroupControl reflects one group control message, then delivers it to
// each member over the chat server.
func (c *Client) fanOutGroupControl(ctx context.Context, base *taskdef.Base, group chatmsg.GroupRef, members []string, msg chatmsg.Message) error {
	messageID, err := taskdef.NewMessageID()
	if err != nil {
		return err
	}
	createdAt := time.Now()
	if err := c.reflectOutgoing(ctx, base, msg, messageID, createdAt, members); err != nil {
		return err
	}
	for _, m := range members {
		if err := c.sendChatMessage(ctx, base, m, messageID, createdAt, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) runContactSync(ctx context.Context, t *taskdef.ContactSync) error {
	if err := c.reflectOnly(ctx, &d2dproto.ContactSync{Action: t.Action, Contact: t.Contact}); err != nil {
		return err
	}
	switch t.Action {
	case d2dproto.SyncDelete:
		if err := c.store.DeleteContact(t.Contact.Identity); err != nil {
			return fmt.Errorf("mediator: contact sync: %w", err)
		}
	default:
		if err := c.store.SaveContact(t.Contact.Identity, t.Contact.PublicKey, t.Contact.Nickname); err != nil {
			return fmt.Errorf("mediator: contact sync: %w", err)
		}
	}
	return nil
}

// runReceive processes one message delivered by the chat server: reflect it
// to the other devices first, then apply it locally, then ack toward the
// chat server. A duplicate or VoIP-suppressed outcome still acks.
func (c *Client) runReceive(ctx context.Context, t *taskdef.ReceiveMessage) error {
	msg, err := chatmsg.Decode(msgtype.Legacy(t.TypeCode), t.Body)
	if err != nil {
		return fmt.Errorf("mediator: decode incoming message: %w", err)
	}

	env := &d2dproto.Envelope{
		DeviceID: c.deviceID,
		Content: &d2dproto.IncomingMessage{
			SenderIdentity: t.Sender,
			MessageID:      t.MessageID,
			CreatedAt:      t.CreatedAt,
			Type:           t.TypeCode,
			Body:           t.Body,
			Nonce:          t.Nonce,
		},
	}
	if err := c.reflectEnvelope(ctx, env); err != nil {
		return err
	}

	procErr := c.proc.ProcessIncoming(processor.Incoming{
		Sender:    t.Sender,
		MessageID: t.MessageID,
		CreatedAt: time.UnixMilli(int64(t.CreatedAt)),
		Nonce:     t.Nonce,
		Msg:       msg,
	})
	if procErr != nil && errors.Is(procErr, processor.ErrDoNotAckVoIP) {
		return procErr
	}
	if ackErr := c.sendChatAck(ctx, t.Sender, t.MessageID); ackErr != nil {
		return ackErr
	}
	return procErr
}

// runReceiveReflected applies one reflected frame from the mediator and
// acks it so the reflection queue keeps draining.
func (c *Client) runReceiveReflected(ctx context.Context, t *taskdef.ReceiveReflectedMessage) error {
	refl, err := mediatorframe.DecodeReflected(t.Frame)
	if err != nil {
		return fmt.Errorf("mediator: reflected frame: %w", err)
	}
	env, err := mediatorcrypto.DecryptEnvelope(refl.Envelope, c.keys)
	if err != nil {
		return fmt.Errorf("mediator: reflected envelope: %w", err)
	}
	if env.DeviceID == c.deviceID {
		logf(c.logger, "skipping own reflected envelope %d", refl.ReflectID)
	} else if err := c.proc.ProcessEnvelope(env); err != nil {
		logf(c.logger, "reflected envelope %d: %v", refl.ReflectID, err)
	}

	if c.conn == nil || !c.conn.LoggedIn() {
		return c.notReady()
	}
	return c.conn.Send(ctx, mediatorframe.EncodeReflectedAck(refl.ReflectID))
}

// runForwardSecurityRefresh pushes an empty forward-security control message
// toward one peer so the session ratchet advances.
func (c *Client) runForwardSecurityRefresh(ctx context.Context, t *taskdef.ForwardSecurityRefresh) error {
	messageID, err := taskdef.NewMessageID()
	if err != nil {
		return err
	}
	nonce, err := t.NonceFor(t.Recipient)
	if err != nil {
		return err
	}
	return c.sendProxyMessage(ctx, t.Recipient, messageID, time.Now(), msgtype.LegacyForwardSecurity, nonce, nil)
}

// reflectOutgoing wraps msg in an outgoing-message envelope and reflects it.
func (c *Client) reflectOutgoing(ctx context.Context, base *taskdef.Base, msg chatmsg.Message, messageID uint64, createdAt time.Time, recipients []string) error {
	code, body, err := chatmsg.Encode(msg)
	if err != nil {
		return err
	}
	out := &d2dproto.OutgoingMessage{
		MessageID: messageID,
		CreatedAt: uint64(createdAt.UnixMilli()),
		Type:      uint64(code),
		Body:      body,
	}
	if gm, ok := msg.(chatmsg.GroupMessage); ok {
		g := gm.Group()
		out.Conversation = d2dproto.Conversation{Group: &d2dproto.GroupIdentity{
			CreatorIdentity: g.CreatorIdentity,
			GroupID:         g.GroupID,
		}}
	} else if len(recipients) == 1 {
		out.Conversation = d2dproto.Conversation{Contact: recipients[0]}
	}
	for _, r := range recipients {
		nonce, err := base.NonceFor(r)
		if err != nil {
			return err
		}
		out.Nonces = append(out.Nonces, nonce)
	}
	return c.reflectEnvelope(ctx, &d2dproto.Envelope{DeviceID: c.deviceID, Content: out})
}

func (c *Client) reflectOnly(ctx context.Context, content d2dproto.Content) error {
	return c.reflectEnvelope(ctx, &d2dproto.Envelope{DeviceID: c.deviceID, Content: content})
}

func (c *Client) reflectEnvelope(ctx context.Context, env *d2dproto.Envelope) error {
	ciphertext, err := mediatorcrypto.EncryptEnvelope(env, c.keys)
	if err != nil {
		return err
	}
	_, err = c.reflect(ctx, ciphertext)
	return err
}

// sendChatMessage delivers one encoded message to one recipient over the
// proxied chat-server leg, reusing the nonce recorded for that recipient.
func (c *Client) sendChatMessage(ctx context.Context, base *taskdef.Base, recipient string, messageID uint64, createdAt time.Time, msg chatmsg.Message) error {
	code, body, err := chatmsg.Encode(msg)
	if err != nil {
		return err
	}
	nonce, err := base.NonceFor(recipient)
	if err != nil {
		return err
	}
	return c.sendProxyMessage(ctx, recipient, messageID, createdAt, code, nonce, body)
}

func (c *Client) sendProxyMessage(ctx context.Context, recipient string, messageID uint64, createdAt time.Time, code msgtype.Legacy, nonce, body []byte) error {
	if c.conn == nil || !c.conn.LoggedIn() {
		return c.notReady()
	}
	payload := make([]byte, 0, proxyMessageHeaderLen+len(body))
	payload = append(payload, proxyOutgoingMessage)
	payload = append(payload, identityBytes(recipient)...)
	payload = binary.LittleEndian.AppendUint64(payload, messageID)
	payload = binary.LittleEndian.AppendUint64(payload, uint64(createdAt.UnixMilli()))
	payload = append(payload, byte(code))
	payload = append(payload, nonce...)
	payload = append(payload, body...)

	frame := append(mediatorframe.EncodeCommonHeader(mediatorframe.TypeProxy), payload...)
	if err := c.conn.Send(ctx, frame); err != nil {
		return taskqueue.Transient(err)
	}
	return nil
}

func (c *Client) sendChatAck(ctx context.Context, sender string, messageID uint64) error {
	if c.conn == nil || !c.conn.LoggedIn() {
		return c.notReady()
	}
	payload := make([]byte, 0, 17)
	payload = append(payload, proxyOutgoingAck)
	payload = append(payload, identityBytes(sender)...)
	payload = binary.LittleEndian.AppendUint64(payload, messageID)
	frame := append(mediatorframe.EncodeCommonHeader(mediatorframe.TypeProxy), payload...)
	if err := c.conn.Send(ctx, frame); err != nil {
		return taskqueue.Transient(err)
	}
	return nil
}

// identityBytes fixes an identity to the 8-byte wire width.
func identityBytes(identity string) []byte {
	b := make([]byte, chatmsg.IdentityLen)
	copy(b, identity)
	return b
}

func (c *Client) resolveRecipients(recipient string, group *chatmsg.GroupRef) ([]string, error) {
	if group == nil {
		return []string{recipient}, nil
	}
	return c.groupMembers(*group)
}

func (c *Client) groupMembers(ref chatmsg.GroupRef) ([]string, error) {
	g, err := c.store.GetGroup(ref.CreatorIdentity, ref.GroupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("mediator: unknown group %s/%d", ref.CreatorIdentity, ref.GroupID)
	}
	return otherMembers(g.Members, c.identity), nil
}

func otherMembers(members []string, self string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}
