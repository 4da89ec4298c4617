// Package mediator provides a high-level client for the multi-device
// mediator protocol: one device group, one mediator server, every
// conversation action reflected to the other devices of the account.
package mediator

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/mediatorcrypto"
	"github.com/chatmesh/mediator-go/internal/mediatorframe"
	"github.com/chatmesh/mediator-go/internal/mediatorws"
	"github.com/chatmesh/mediator-go/internal/processor"
	"github.com/chatmesh/mediator-go/internal/store"
	"github.com/chatmesh/mediator-go/internal/taskdef"
	"github.com/chatmesh/mediator-go/internal/taskqueue"
)

// Contact represents a known chat identity stored locally.
type Contact = store.Contact

// Group represents a chat group stored locally.
type Group = store.Group

// GroupRef identifies a group by creator and ID.
type GroupRef = chatmsg.GroupRef

// CallHandler receives VoIP signaling messages.
type CallHandler = processor.CallHandler

const defaultServerURL = "wss://mediator.chatmesh.net/device"

// Client is the main entry point. Create one with NewClient, then Connect.
type Client struct {
	serverURL      string
	tlsConfig      *tls.Config
	dbPath         string
	logger         *log.Logger
	identity       string
	deviceID       uint64
	deviceGroupKey []byte
	callHandler    CallHandler
	onMessage      func(IncomingMessage)

	store *store.Store
	keys  *mediatorcrypto.DeviceGroupKeys
	proc  *processor.Processor
	queue *taskqueue.Queue
	conn  *mediatorws.PersistentConn

	nextReflectID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan time.Time // reflect ID -> acked-at

	// control frame waiters (device info, transactions)
	ctlMu   sync.Mutex
	ctlWait map[mediatorframe.Type]chan []byte

	recvCancel context.CancelFunc
	recvDone   chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithServerURL overrides the default mediator WebSocket URL.
func WithServerURL(url string) Option {
	return func(c *Client) { c.serverURL = url }
}

// WithTLSConfig overrides the TLS configuration used for connections.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = tc }
}

// WithDBPath overrides the database path for persistent storage.
// If not set, defaults to $XDG_DATA_HOME/mediator-go/default.db.
func WithDBPath(path string) Option {
	return func(c *Client) { c.dbPath = path }
}

// WithLogger sets the logger for verbose output.
// If not set, logging is disabled.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDeviceGroupKey sets the 32-byte root key shared by all devices of
// the account. Required before Connect.
func WithDeviceGroupKey(key []byte) Option {
	return func(c *Client) { c.deviceGroupKey = key }
}

// WithDeviceID sets this device's ID within the device group.
func WithDeviceID(id uint64) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithIdentity sets the account's own chat identity. Group sends use it to
// skip the own entry in the member list.
func WithIdentity(identity string) Option {
	return func(c *Client) { c.identity = identity }
}

// IncomingMessage is one content message delivered to the account, handed
// to the hook set with WithMessageHandler after it has been persisted.
type IncomingMessage struct {
	Sender    string
	MessageID uint64
	CreatedAt time.Time
	Msg       chatmsg.Message
}

// WithMessageHandler registers a hook for incoming content messages.
func WithMessageHandler(h func(IncomingMessage)) Option {
	return func(c *Client) { c.onMessage = h }
}

// WithCallHandler routes incoming VoIP signaling to the call layer.
func WithCallHandler(h CallHandler) Option {
	return func(c *Client) { c.callHandler = h }
}

// NewClient creates a new mediator client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverURL: defaultServerURL,
		pending:   make(map[uint32]chan time.Time),
		ctlWait:   make(map[mediatorframe.Type]chan []byte),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// logf logs a message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Connect opens the store, derives the device group keys, dials the
// mediator and performs the handshake. After Connect returns, queued
// tasks resume and incoming frames are dispatched in the background.
func (c *Client) Connect(ctx context.Context) error {
	keys, err := mediatorcrypto.DeriveDeviceGroupKeys(c.deviceGroupKey)
	if err != nil {
		return err
	}
	c.keys = keys

	if c.store == nil {
		s, err := store.Open(c.dbPath)
		if err != nil {
			return err
		}
		c.store = s
	}

	procOpts := []processor.Option{
		processor.WithLogger(c.logger),
		processor.WithCallHandler(c.callHandler),
		processor.WithReceiptEnqueuer(c.enqueueReceipt),
	}
	if c.onMessage != nil {
		procOpts = append(procOpts, processor.WithMessageHook(func(in processor.Incoming) {
			c.onMessage(IncomingMessage{
				Sender:    in.Sender,
				MessageID: in.MessageID,
				CreatedAt: in.CreatedAt,
				Msg:       in.Msg,
			})
		}))
	}
	c.proc = processor.New(c.store, procOpts...)
	c.queue = taskqueue.New(c.execute,
		taskqueue.WithLogger(c.logger),
		taskqueue.WithStore(c.store),
	)
	if err := c.queue.Resume(); err != nil {
		return err
	}

	conn, err := mediatorws.DialPersistent(ctx, c.serverURL, c.tlsConfig,
		mediatorws.WithOnDisconnect(c.onDisconnect),
		mediatorws.WithOnReconnect(func(ctx context.Context, raw *mediatorws.Conn) error {
			return c.handshake(ctx, raw)
		}),
	)
	if err != nil {
		return err
	}
	c.conn = conn

	if err := c.handshake(ctx, conn); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	c.recvCancel = cancel
	c.recvDone = make(chan struct{})
	go c.receiveLoop(recvCtx)

	go c.queue.Spool(context.Background())
	return nil
}

// frameConn is the slice of a connection the handshake needs. After a
// reconnect it runs on the raw conn, before the receive loop can see it.
type frameConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
}

// handshake performs the server-hello/client-hello/server-info exchange.
// Runs on first connect and after every reconnect.
func (c *Client) handshake(ctx context.Context, conn frameConn) error {
	frame, err := conn.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if !mediatorframe.IsMediatorFrame(frame) || mediatorframe.Type(frame[0]) != mediatorframe.TypeServerHello {
		return fmt.Errorf("mediator: handshake: unexpected frame % x", head(frame))
	}

	hello := mediatorframe.EncodeCommonHeader(mediatorframe.TypeClientHello)
	var devID [8]byte
	for i := 0; i < 8; i++ {
		devID[i] = byte(c.deviceID >> (8 * i))
	}
	hello = append(hello, devID[:]...)
	if err := conn.Send(ctx, hello); err != nil {
		return err
	}

	frame, err = conn.ReadFrame(ctx)
	if err != nil {
		return err
	}
	if !mediatorframe.IsMediatorFrame(frame) || mediatorframe.Type(frame[0]) != mediatorframe.TypeServerInfo {
		return fmt.Errorf("mediator: handshake: expected server info, got % x", head(frame))
	}

	c.conn.SetLoggedIn(true)
	logf(c.logger, "handshake complete, device %d logged in", c.deviceID)
	return nil
}

func head(frame []byte) []byte {
	if len(frame) > 4 {
		return frame[:4]
	}
	return frame
}

// onDisconnect runs once per broken connection: pending reflects fail and
// drop-on-disconnect tasks leave the queue.
func (c *Client) onDisconnect() {
	c.queue.Interrupt()

	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	logf(c.logger, "connection lost, queue interrupted")
}

// Close stops the receive loop and closes connection and store.
func (c *Client) Close() error {
	if c.recvCancel != nil {
		c.recvCancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.recvDone != nil {
		<-c.recvDone
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// QueueLen reports the number of queued, not yet completed tasks.
func (c *Client) QueueLen() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Len()
}

func (c *Client) enqueueReceipt(recipient string, kind chatmsg.ReceiptKind, messageID uint64) {
	task := taskdef.NewSendDeliveryReceipt(recipient, kind, []uint64{messageID})
	if err := c.queue.Enqueue(task, nil); err != nil {
		logf(c.logger, "enqueue delivery receipt: %v", err)
		return
	}
	go c.queue.Spool(context.Background())
}
