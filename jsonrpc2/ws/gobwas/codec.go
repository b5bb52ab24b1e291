package gobwas

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	rpcws "github.com/vipnode/duplex/jsonrpc2/ws"
)

// Dialer opens client-side transports.
type Dialer struct {
	Dialer ws.Dialer
}

// Dial implements rpcws.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (rpcws.Transport, error) {
	conn, br, _, err := d.Dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	var src io.Reader = conn
	if br != nil {
		// The server may have sent frames along with the handshake response.
		src = io.MultiReader(br, conn)
	}
	return rpcws.New(newSocket(conn, src, ws.StateClientSide)), nil
}

// WebSocketDial returns a client-side Transport using the default dialer.
func WebSocketDial(ctx context.Context, url string) (rpcws.Transport, error) {
	d := Dialer{Dialer: ws.DefaultDialer}
	return d.Dial(ctx, url)
}

// Upgrader upgrades an HTTP request to a WebSocket request and returns the
// server-side Transport.
type Upgrader struct {
	Upgrader ws.HTTPUpgrader
}

func (u *Upgrader) Upgrade(r *http.Request, w http.ResponseWriter, h http.Header) (rpcws.Transport, error) {
	upgrader := u.Upgrader
	if h != nil {
		upgrader.Header = h
	}
	conn, _, _, err := upgrader.Upgrade(r, w)
	if err != nil {
		return nil, err
	}
	return rpcws.New(newSocket(conn, conn, ws.StateServerSide)), nil
}

// Pipe returns a connected client/server transport pair over net.Pipe. It
// skips the HTTP upgrade, which makes it useful for tests.
func Pipe() (client rpcws.Transport, server rpcws.Transport) {
	c1, c2 := net.Pipe()
	client = rpcws.New(newSocket(c1, c1, ws.StateClientSide))
	server = rpcws.New(newSocket(c2, c2, ws.StateServerSide))
	return client, server
}

// lockedWriter shares the socket write lock with the control frame handler,
// which answers pings and close frames from the read goroutine.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

var _ rpcws.Socket = &socket{}

type socket struct {
	conn  net.Conn
	state ws.State
	r     *wsutil.Reader
	ctrl  wsutil.ControlHandler

	mu     sync.Mutex
	onPong func()
}

func newSocket(conn net.Conn, src io.Reader, state ws.State) *socket {
	s := &socket{
		conn:  conn,
		state: state,
	}
	dst := lockedWriter{&s.mu, conn}
	s.ctrl = wsutil.ControlHandler{
		Dst:   dst,
		State: state,
		// Payloads are read through wsutil.Reader, which already unmasks.
		DisableSrcCiphering: true,
	}
	s.r = &wsutil.Reader{
		Source: src,
		State:  state,
		OnIntermediate: func(hdr ws.Header, r io.Reader) error {
			return s.handleControl(hdr, r)
		},
	}
	return s
}

func (s *socket) handleControl(hdr ws.Header, r io.Reader) error {
	if hdr.OpCode == ws.OpPong && s.onPong != nil {
		s.onPong()
	}
	ctrl := s.ctrl
	ctrl.Src = r
	return ctrl.Handle(hdr)
}

func (s *socket) ReadMessage() ([]byte, error) {
	for {
		hdr, err := s.r.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := s.handleControl(hdr, s.r); err != nil {
				if closed, ok := err.(wsutil.ClosedError); ok {
					return nil, &rpcws.CloseError{Code: int(closed.Code), Reason: closed.Reason}
				}
				return nil, err
			}
			continue
		}
		data, err := ioutil.ReadAll(s.r)
		if err != nil {
			if closed, ok := err.(wsutil.ClosedError); ok {
				return nil, &rpcws.CloseError{Code: int(closed.Code), Reason: closed.Reason}
			}
			return nil, err
		}
		return data, nil
	}
}

func (s *socket) write(op ws.OpCode, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsutil.WriteMessage(s.conn, s.state, op, payload)
}

func (s *socket) WriteMessage(payload []byte) error {
	return s.write(ws.OpText, payload)
}

func (s *socket) WritePing() error {
	return s.write(ws.OpPing, nil)
}

func (s *socket) WriteClose(code int, reason string) error {
	return s.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), reason))
}

func (s *socket) SetPongHandler(fn func()) {
	s.onPong = fn
}

func (s *socket) Close() error {
	return s.conn.Close()
}

func (s *socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
