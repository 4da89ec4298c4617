package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/msgtype"
	"github.com/chatmesh/mediator-go/internal/processor"
)

// SaveMessage inserts or replaces a chat message.
func (s *Store) SaveMessage(r *processor.Record) error {
	var contact, groupCreator string
	var groupID int64
	if r.Group != nil {
		groupCreator = r.Group.CreatorIdentity
		groupID = int64(r.Group.GroupID)
	} else {
		contact = r.ContactIdentity
	}
	incoming := 0
	if r.Incoming {
		incoming = 1
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO message
		 (message_id, contact, group_creator, group_id, sender, type, body, created_at, state, incoming)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(r.MessageID), contact, groupCreator, groupID,
		r.Sender, int(r.Type), r.Body, r.CreatedAt.UnixMilli(), "", incoming,
	)
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// GetMessage returns the stored message, or nil if not found.
func (s *Store) GetMessage(messageID uint64) (*processor.Record, MessageState, error) {
	row := s.db.QueryRow(
		`SELECT message_id, contact, group_creator, group_id, sender, type, body, created_at, state, incoming
		 FROM message WHERE message_id = ?`, int64(messageID))

	var r processor.Record
	var id, groupID, createdAt int64
	var contact, groupCreator, state string
	var typ, incoming int
	err := row.Scan(&id, &contact, &groupCreator, &groupID, &r.Sender, &typ, &r.Body, &createdAt, &state, &incoming)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: get message: %w", err)
	}
	r.MessageID = uint64(id)
	if groupCreator != "" {
		r.Group = &chatmsg.GroupRef{CreatorIdentity: groupCreator, GroupID: uint64(groupID)}
	} else {
		r.ContactIdentity = contact
	}
	r.Type = msgtype.Type(typ)
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.Incoming = incoming != 0
	return &r, MessageState(state), nil
}

// MessageState mirrors processor.MessageState for callers that only import
// the store.
type MessageState = processor.MessageState

// SetMessageState updates the delivery state. Unknown message IDs are
// ignored: receipts routinely arrive for conversations trimmed locally.
func (s *Store) SetMessageState(messageID uint64, state processor.MessageState) error {
	_, err := s.db.Exec(
		"UPDATE message SET state = ? WHERE message_id = ?",
		string(state), int64(messageID),
	)
	if err != nil {
		return fmt.Errorf("store: set message state: %w", err)
	}
	return nil
}

// EditMessageBody replaces the body of a stored message.
func (s *Store) EditMessageBody(messageID uint64, body string) error {
	_, err := s.db.Exec(
		"UPDATE message SET body = ?, edited_at = ? WHERE message_id = ?",
		[]byte(body), time.Now().UnixMilli(), int64(messageID),
	)
	if err != nil {
		return fmt.Errorf("store: edit message: %w", err)
	}
	return nil
}

// RemoveMessage deletes a stored message.
func (s *Store) RemoveMessage(messageID uint64) error {
	if _, err := s.db.Exec("DELETE FROM message WHERE message_id = ?", int64(messageID)); err != nil {
		return fmt.Errorf("store: remove message: %w", err)
	}
	return nil
}

// SeenNonce records the nonce in the processed-nonce log and reports
// whether it was already present. Insert-then-check keeps the pair atomic.
func (s *Store) SeenNonce(nonce []byte) (bool, error) {
	res, err := s.db.Exec("INSERT OR IGNORE INTO message_nonce (nonce) VALUES (?)", nonce)
	if err != nil {
		return false, fmt.Errorf("store: nonce log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: nonce log: %w", err)
	}
	return n == 0, nil
}
