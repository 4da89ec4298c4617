package mediatorws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultKeepAliveTimeout  = 20 * time.Second
)

// PersistentConn wraps a Conn with keep-alive pings and automatic
// reconnection. The mediator handshake is connection-scoped, so every
// reconnect clears the logged-in state and fires the disconnect and
// reconnect hooks; the owner redoes the handshake in the reconnect hook.
type PersistentConn struct {
	mu      sync.Mutex
	conn    *Conn
	url     string
	tlsConf *tls.Config
	headers http.Header
	closed  atomic.Bool

	loggedIn atomic.Bool

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration

	onDisconnect func()
	onReconnect  func(ctx context.Context, conn *Conn) error

	cancel context.CancelFunc // cancels the keep-alive goroutine
}

// Option configures a PersistentConn.
type Option func(*PersistentConn)

// WithKeepAliveInterval sets the interval between keep-alive pings.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.keepAliveInterval = d }
}

// WithKeepAliveTimeout sets how long to wait for a ping before reconnecting.
func WithKeepAliveTimeout(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.keepAliveTimeout = d }
}

// WithHeaders sets HTTP headers for the WebSocket upgrade request.
func WithHeaders(h http.Header) Option {
	return func(pc *PersistentConn) { pc.headers = h }
}

// WithOnDisconnect sets a hook fired once per broken connection, before
// any reconnect attempt. The client wires this to the task queue's
// Interrupt.
func WithOnDisconnect(fn func()) Option {
	return func(pc *PersistentConn) { pc.onDisconnect = fn }
}

// WithOnReconnect sets a hook for redoing the mediator handshake after a
// reconnect. The hook runs on the freshly dialed conn before that conn
// becomes visible to ReadFrame and Send, so it is the only reader until
// it returns. A hook error tears the new connection down again.
func WithOnReconnect(fn func(ctx context.Context, conn *Conn) error) Option {
	return func(pc *PersistentConn) { pc.onReconnect = fn }
}

// DialPersistent dials a WebSocket and returns a PersistentConn.
func DialPersistent(ctx context.Context, url string, tlsConf *tls.Config, opts ...Option) (*PersistentConn, error) {
	pc := &PersistentConn{
		url:               url,
		tlsConf:           tlsConf,
		keepAliveInterval: defaultKeepAliveInterval,
		keepAliveTimeout:  defaultKeepAliveTimeout,
	}
	for _, o := range opts {
		o(pc)
	}

	conn, err := Dial(ctx, url, tlsConf, pc.headers)
	if err != nil {
		return nil, err
	}
	pc.conn = conn

	kaCtx, kaCancel := context.WithCancel(context.Background())
	pc.cancel = kaCancel
	go pc.keepAliveLoop(kaCtx)

	return pc, nil
}

// SetLoggedIn records completion (or loss) of the mediator handshake.
func (pc *PersistentConn) SetLoggedIn(v bool) {
	pc.loggedIn.Store(v)
}

// LoggedIn reports whether the mediator handshake has completed on the
// current connection.
func (pc *PersistentConn) LoggedIn() bool {
	return pc.loggedIn.Load()
}

// ReadFrame reads the next mediator frame. On read error it fires the
// disconnect hook, reconnects and retries.
func (pc *PersistentConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		pc.mu.Lock()
		conn := pc.conn
		pc.mu.Unlock()

		if conn == nil {
			if pc.closed.Load() {
				return nil, fmt.Errorf("mediatorws: persistent conn closed")
			}
			if err := pc.reconnect(ctx); err != nil {
				return nil, err
			}
			continue
		}

		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			if pc.closed.Load() || ctx.Err() != nil {
				return nil, err
			}
			pc.dropConn()
			if reconnErr := pc.reconnect(ctx); reconnErr != nil {
				return nil, reconnErr
			}
			continue
		}
		return frame, nil
	}
}

// Send writes one mediator frame to the current connection.
func (pc *PersistentConn) Send(ctx context.Context, frame []byte) error {
	pc.mu.Lock()
	conn := pc.conn
	pc.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("mediatorws: no active connection")
	}
	return conn.Send(ctx, frame)
}

// Close stops keep-alive and closes the connection. No further reconnects
// will happen.
func (pc *PersistentConn) Close() error {
	if pc.closed.Swap(true) {
		return nil // already closed
	}
	pc.cancel()
	pc.loggedIn.Store(false)
	pc.mu.Lock()
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (pc *PersistentConn) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(pc.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pc.closed.Load() {
				return
			}
			pc.mu.Lock()
			conn := pc.conn
			pc.mu.Unlock()
			if conn == nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, pc.keepAliveTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && !pc.closed.Load() {
				pc.dropConn()
				_ = pc.reconnect(ctx)
			}
		}
	}
}

// dropConn discards the broken connection, clears logged-in state and
// fires the disconnect hook exactly once per connection.
func (pc *PersistentConn) dropConn() {
	pc.mu.Lock()
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()
	if conn == nil {
		return
	}
	conn.CloseNow()
	pc.loggedIn.Store(false)
	if pc.onDisconnect != nil {
		pc.onDisconnect()
	}
}

func (pc *PersistentConn) reconnect(ctx context.Context) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed.Load() {
		return fmt.Errorf("mediatorws: persistent conn closed")
	}
	if pc.conn != nil {
		// Another caller reconnected first.
		return nil
	}
	conn, err := Dial(ctx, pc.url, pc.tlsConf, pc.headers)
	if err != nil {
		return fmt.Errorf("mediatorws: reconnect: %w", err)
	}
	// The handshake runs before the conn is published. Concurrent
	// ReadFrame and Send callers keep seeing nil until it succeeds, so
	// the handshake is the sole reader of its own hello frames.
	if pc.onReconnect != nil {
		if err := pc.onReconnect(ctx, conn); err != nil {
			conn.CloseNow()
			return fmt.Errorf("mediatorws: handshake after reconnect: %w", err)
		}
	}
	pc.conn = conn
	return nil
}
