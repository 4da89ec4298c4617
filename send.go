package mediator

import (
	"context"
	"fmt"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/d2dproto"
	"github.com/chatmesh/mediator-go/internal/taskdef"
)

// SendText sends a text message to a contact. Delivery is asynchronous: the
// message is committed to the persistent task queue and survives restarts.
// The returned ID identifies the message in later receipts and edits.
func (c *Client) SendText(ctx context.Context, recipient, body string) (uint64, error) {
	id, err := taskdef.NewMessageID()
	if err != nil {
		return 0, err
	}
	return id, c.submit(ctx, taskdef.NewSendText(recipient, body, id))
}

// SendGroupText sends a text message to every member of a group.
func (c *Client) SendGroupText(ctx context.Context, group GroupRef, body string) (uint64, error) {
	id, err := taskdef.NewMessageID()
	if err != nil {
		return 0, err
	}
	return id, c.submit(ctx, taskdef.NewSendGroupText(group, body, id))
}

// SendLocation sends a location message to a contact.
func (c *Client) SendLocation(ctx context.Context, recipient string, loc chatmsg.Location) (uint64, error) {
	id, err := taskdef.NewMessageID()
	if err != nil {
		return 0, err
	}
	return id, c.submit(ctx, taskdef.NewSendLocation(recipient, loc, id))
}

// SendGroupLocation sends a location message to every member of a group.
func (c *Client) SendGroupLocation(ctx context.Context, group GroupRef, loc chatmsg.Location) (uint64, error) {
	id, err := taskdef.NewMessageID()
	if err != nil {
		return 0, err
	}
	task := taskdef.NewSendLocation("", loc, id)
	task.Group = &group
	return id, c.submit(ctx, task)
}

// SendBallot opens a poll in a 1:1 conversation.
func (c *Client) SendBallot(ctx context.Context, recipient string, ballot chatmsg.BallotCreate) (uint64, error) {
	id, err := taskdef.NewMessageID()
	if err != nil {
		return 0, err
	}
	return id, c.submit(ctx, taskdef.NewSendBallot(recipient, ballot, id))
}

// MarkRead sends a read receipt for the given messages and records the read
// state locally and on the other devices.
func (c *Client) MarkRead(ctx context.Context, recipient string, messageIDs []uint64) error {
	if len(messageIDs) == 0 {
		return fmt.Errorf("mediator: mark read: no message IDs")
	}
	return c.submit(ctx, taskdef.NewSendDeliveryReceipt(recipient, chatmsg.ReceiptRead, messageIDs))
}

// CreateGroup creates a group with this account as creator and announces it
// to all members.
func (c *Client) CreateGroup(ctx context.Context, group GroupRef, name string, members []string) error {
	return c.submit(ctx, taskdef.NewGroupCreate(group, name, members))
}

// RenameGroup renames a group this account created.
func (c *Client) RenameGroup(ctx context.Context, group GroupRef, name string) error {
	return c.submit(ctx, taskdef.NewGroupRename(group, name))
}

// SetGroupPhoto announces a new group photo blob to all members.
func (c *Client) SetGroupPhoto(ctx context.Context, group GroupRef, blobID []byte, size uint32, key []byte) error {
	return c.submit(ctx, taskdef.NewGroupSetPhoto(group, blobID, size, key))
}

// LeaveGroup leaves a group created by someone else.
func (c *Client) LeaveGroup(ctx context.Context, group GroupRef) error {
	return c.submit(ctx, taskdef.NewGroupLeave(group))
}

// DissolveGroup disbands a group this account created.
func (c *Client) DissolveGroup(ctx context.Context, group GroupRef, members []string) error {
	return c.submit(ctx, taskdef.NewGroupDissolve(group, members))
}

// AddContact stores a contact locally and syncs it to the device group.
func (c *Client) AddContact(ctx context.Context, identity string, publicKey []byte, nickname string) error {
	contact := d2dproto.Contact{Identity: identity, PublicKey: publicKey, Nickname: nickname}
	return c.submit(ctx, taskdef.NewContactSync(d2dproto.SyncCreate, contact))
}

// RemoveContact deletes a contact locally and syncs the deletion.
func (c *Client) RemoveContact(ctx context.Context, identity string) error {
	contact := d2dproto.Contact{Identity: identity}
	return c.submit(ctx, taskdef.NewContactSync(d2dproto.SyncDelete, contact))
}

// SyncSettings reflects a settings change to the device group.
func (c *Client) SyncSettings(ctx context.Context, settings d2dproto.SettingsSync) error {
	return c.submit(ctx, taskdef.NewSettingsSync(settings))
}

// SyncProfile reflects a user profile change to the device group.
func (c *Client) SyncProfile(ctx context.Context, profile d2dproto.UserProfileSync) error {
	return c.submit(ctx, taskdef.NewProfileSync(profile))
}

// RefreshForwardSecurity renegotiates the forward-security session with one
// peer. Dropped if the connection goes away before it runs.
func (c *Client) RefreshForwardSecurity(ctx context.Context, recipient string) error {
	return c.submit(ctx, taskdef.NewForwardSecurityRefresh(recipient))
}

// Contacts lists the locally known contacts.
func (c *Client) Contacts() ([]*Contact, error) {
	if c.store == nil {
		return nil, fmt.Errorf("mediator: not connected")
	}
	return c.store.ListContacts()
}

// submit commits a task to the queue and kicks off spooling. Persistent
// tasks survive even if the process dies before the spool run completes.
func (c *Client) submit(ctx context.Context, task taskdef.Task) error {
	if c.queue == nil {
		return fmt.Errorf("mediator: not connected")
	}
	if err := c.queue.Enqueue(task, nil); err != nil {
		return err
	}
	go c.queue.Spool(context.WithoutCancel(ctx))
	return nil
}
