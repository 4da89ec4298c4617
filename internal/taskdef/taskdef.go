// Package taskdef defines the tasks the queue executes and their
// serialized form. A task is a unit of outbound work (a send, a group
// mutation, a sync) or inbound work (processing one received message);
// its durability class decides what happens to it on disconnect and
// restart.
package taskdef

import (
	"crypto/rand"
	"fmt"
)

// TaskType classifies durability.
type TaskType int

const (
	// Persistent tasks survive restarts; they are written to the store and
	// re-enqueued on startup.
	Persistent TaskType = iota
	// Volatile tasks survive disconnects within one process lifetime but
	// are never persisted.
	Volatile
	// DropOnDisconnect tasks are only meaningful within one connection
	// session and are dropped when it ends.
	DropOnDisconnect
)

func (t TaskType) String() string {
	switch t {
	case Persistent:
		return "persistent"
	case Volatile:
		return "volatile"
	case DropOnDisconnect:
		return "dropOnDisconnect"
	}
	return fmt.Sprintf("TaskType(%d)", int(t))
}

// TaskState is the execution state of a queued task.
type TaskState int

const (
	Pending TaskState = iota
	Executing
	Interrupted
	Done
)

func (s TaskState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executing:
		return "executing"
	case Interrupted:
		return "interrupted"
	case Done:
		return "done"
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// NonceLen is the length of a per-recipient message nonce.
const NonceLen = 24

// Base carries the fields common to every task. Embed it by pointer-free
// value; the queue mutates it through TaskBase().
//
// The nonce map is never serialized: after a restart a resumed task must
// re-encrypt with fresh nonces, so the map starts empty and NonceFor
// repopulates it on demand.
type Base struct {
	Type       TaskType  `cbor:"type"`
	State      TaskState `cbor:"state"`
	Retry      bool      `cbor:"retry"`
	RetryCount int       `cbor:"retryCount"`

	Nonces  map[string][]byte `cbor:"-"`
	Dropped bool              `cbor:"-"`
}

// NonceFor returns the nonce for a recipient, generating and remembering a
// fresh one on first use. Drawing it here rather than at construction time
// keeps resumed tasks safe: a task deserialized after a restart has an
// empty map and silently gets new nonces.
func (b *Base) NonceFor(recipient string) ([]byte, error) {
	if nonce, ok := b.Nonces[recipient]; ok {
		return nonce, nil
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("taskdef: nonce: %w", err)
	}
	if b.Nonces == nil {
		b.Nonces = make(map[string][]byte)
	}
	b.Nonces[recipient] = nonce
	return nonce, nil
}

// Task is one unit of queue work. TaskName is the stable registry key the
// serialized record carries.
type Task interface {
	TaskName() string
	TaskBase() *Base
}

// NewMessageID draws a random 8-byte message ID.
func NewMessageID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("taskdef: message id: %w", err)
	}
	var id uint64
	for _, b := range buf {
		id = id<<8 | uint64(b)
	}
	return id, nil
}
