// Websocket implementation using Gorilla's Websocket library
package gorilla

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vipnode/duplex/jsonrpc2/ws"
)

// writeWait bounds control frame writes.
var writeWait = 10 * time.Second

// Dialer opens client-side transports. The zero value uses
// websocket.DefaultDialer.
type Dialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial implements ws.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (ws.Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return ws.New(&socket{conn: conn}), nil
}

// WebSocketDial returns a client-side Transport using the default dialer.
func WebSocketDial(ctx context.Context, url string) (ws.Transport, error) {
	d := Dialer{}
	return d.Dial(ctx, url)
}

// Upgrader upgrades an HTTP request to a WebSocket request and returns the
// server-side Transport.
type Upgrader struct {
	Upgrader websocket.Upgrader
}

func (u *Upgrader) Upgrade(r *http.Request, w http.ResponseWriter, h http.Header) (ws.Transport, error) {
	conn, err := u.Upgrader.Upgrade(w, r, h)
	if err != nil {
		return nil, err
	}
	return ws.New(&socket{conn: conn}), nil
}

var _ ws.Socket = &socket{}

type socket struct {
	conn *websocket.Conn
}

func (s *socket) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				return nil, &ws.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *socket) WriteMessage(payload []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *socket) WritePing() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socket) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (s *socket) SetPongHandler(fn func()) {
	s.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (s *socket) Close() error {
	return s.conn.Close()
}

func (s *socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
