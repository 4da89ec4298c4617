package mediatorws

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
)

// wsURL converts an httptest server URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFrameRoundTrip(t *testing.T) {
	serverHello := []byte{0x10, 0, 0, 0, 1, 2, 3}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer ws.CloseNow()

		if err := ws.Write(r.Context(), websocket.MessageBinary, serverHello); err != nil {
			t.Errorf("write: %v", err)
			return
		}

		_, got, err := ws.Read(r.Context())
		if err != nil {
			t.Errorf("read: %v", err)
			return
		}
		if got[0] != 0x11 {
			t.Errorf("client frame type = 0x%02x, want clientHello", got[0])
		}
		ws.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	frame, err := conn.ReadFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame, serverHello) {
		t.Fatalf("frame = %x, want %x", frame, serverHello)
	}

	if err := conn.Send(ctx, []byte{0x11, 0, 0, 0, 9}); err != nil {
		t.Fatal(err)
	}
}

func TestReadRejectsTextMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		_ = ws.Write(r.Context(), websocket.MessageText, []byte("not a frame"))
		// Keep the connection open until the client is done.
		_, _, _ = ws.Read(r.Context())
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	if _, err := conn.ReadFrame(ctx); err == nil {
		t.Fatal("text message: want error")
	}
}
