// Package mediatorws provides binary-framed WebSocket communication with
// the mediator server. One WebSocket message is exactly one mediator frame.
package mediatorws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Conn wraps a WebSocket connection with mediator framing.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a WebSocket connection to the given URL.
// If tlsConf is non-nil, it is used for the TLS handshake.
// Optional HTTP headers are added to the upgrade request.
func Dial(ctx context.Context, url string, tlsConf *tls.Config, headers ...http.Header) (*Conn, error) {
	opts := &websocket.DialOptions{}
	if tlsConf != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConf,
			},
		}
	}
	if len(headers) > 0 {
		opts.HTTPHeader = headers[0]
	}
	ws, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("mediatorws: dial: %w", err)
	}
	// Reflected frames carry whole envelopes; the default 32 KiB read
	// limit is too tight for media descriptors and large contact syncs.
	ws.SetReadLimit(1 << 22)
	return &Conn{ws: ws}, nil
}

// ReadFrame reads one mediator frame from the connection.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("mediatorws: read: %w", err)
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("mediatorws: unexpected %v message", typ)
	}
	return data, nil
}

// Send writes one mediator frame.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("mediatorws: write: %w", err)
	}
	return nil
}

// Ping performs a WebSocket-level ping round-trip.
func (c *Conn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

// Close sends a normal closure frame and then closes the connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// CloseNow closes the connection immediately without a close frame.
func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}
