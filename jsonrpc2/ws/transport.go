// Package ws is the transport layer underneath jsonrpc2.Conn. It presents a
// single Transport interface over the websocket implementations in the
// gorilla and gobwas subpackages, which only need to provide a Socket.
package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Close codes used by this package and its users.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	CloseHandshakeFailed = 4000
)

// closeTimeout is how long Close waits for the peer to acknowledge a close
// frame before the socket is dropped.
var closeTimeout = 5 * time.Second

const eventBuffer = 32

// ErrNotOpen is returned by Send when the transport is not in the Open state.
var ErrNotOpen = errors.New("transport is not open")

// State is the lifecycle state of a Transport.
type State int

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EventKind enumerates the events emitted by a Transport.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
	EventPong
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventPong:
		return "pong"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a single transport event. Data is set for EventMessage, Code and
// Reason for EventClose, Err for EventError.
type Event struct {
	Kind   EventKind
	Data   []byte
	Code   int
	Reason string
	Err    error
}

// Transport is a message-framed duplex connection.
//
// Events yields exactly one EventOpen, followed by any number of
// EventMessage, EventPong and EventError events, followed by exactly one
// EventClose, after which the channel is closed. The consumer must keep
// receiving until the channel is closed.
type Transport interface {
	// Send writes one message frame. It fails with ErrNotOpen unless the
	// transport is Open.
	Send(payload []byte) error
	// State returns the current lifecycle state.
	State() State
	// Events returns the ordered event stream.
	Events() <-chan Event
	// Ping sends a liveness probe, answered by an EventPong.
	Ping() error
	// Close starts a graceful close handshake.
	Close(code int, reason string) error
	// Terminate drops the connection without a close handshake.
	Terminate() error
	// RemoteAddr returns the address of the peer.
	RemoteAddr() net.Addr
}

// CloseError is returned by Socket.ReadMessage when the peer closed the
// connection with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (err *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", err.Code, err.Reason)
}

// Socket is the minimal surface a websocket implementation provides to be
// wrapped into a Transport.
type Socket interface {
	// ReadMessage blocks until the next data message. Control frames are
	// handled internally. A close frame from the peer is reported as a
	// *CloseError.
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	WritePing() error
	WriteClose(code int, reason string) error
	// SetPongHandler registers fn to be called, from the goroutine running
	// ReadMessage, whenever a pong is received.
	SetPongHandler(fn func())
	Close() error
	RemoteAddr() net.Addr
}

// New wraps an established Socket into a Transport and starts reading from
// it.
func New(sock Socket) Transport {
	t := &socketTransport{
		sock:   sock,
		events: make(chan Event, eventBuffer),
		state:  Connecting,
	}
	sock.SetPongHandler(func() {
		t.events <- Event{Kind: EventPong}
	})
	go t.readLoop()
	return t
}

type socketTransport struct {
	sock   Socket
	events chan Event

	// wmu serialises writes on the socket.
	wmu sync.Mutex

	mu         sync.Mutex
	state      State
	closeTimer *time.Timer
	localClose *CloseError
}

func (t *socketTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *socketTransport) Events() <-chan Event {
	return t.events
}

func (t *socketTransport) RemoteAddr() net.Addr {
	return t.sock.RemoteAddr()
}

func (t *socketTransport) readLoop() {
	t.mu.Lock()
	if t.state == Connecting {
		t.state = Open
	}
	t.mu.Unlock()
	t.events <- Event{Kind: EventOpen}

	for {
		data, err := t.sock.ReadMessage()
		if err == nil {
			t.events <- Event{Kind: EventMessage, Data: data}
			continue
		}

		t.mu.Lock()
		wasClosing := t.state == Closing
		localClose := t.localClose
		t.state = Closed
		if t.closeTimer != nil {
			t.closeTimer.Stop()
		}
		t.mu.Unlock()

		closed := Event{Kind: EventClose, Code: CloseAbnormal}
		var closeErr *CloseError
		if errors.As(err, &closeErr) {
			closed.Code, closed.Reason = closeErr.Code, closeErr.Reason
		} else if wasClosing && localClose != nil {
			closed.Code, closed.Reason = localClose.Code, localClose.Reason
		} else if !wasClosing {
			t.events <- Event{Kind: EventError, Err: err}
		}
		t.sock.Close()
		t.events <- closed
		close(t.events)
		return
	}
}

func (t *socketTransport) Send(payload []byte) error {
	if t.State() != Open {
		return ErrNotOpen
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.sock.WriteMessage(payload)
}

func (t *socketTransport) Ping() error {
	if t.State() != Open {
		return ErrNotOpen
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.sock.WritePing()
}

func (t *socketTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.state != Open {
		t.mu.Unlock()
		return nil
	}
	t.state = Closing
	t.localClose = &CloseError{Code: code, Reason: reason}
	// Drop the socket if the peer never answers the close frame.
	t.closeTimer = time.AfterFunc(closeTimeout, func() { t.sock.Close() })
	t.mu.Unlock()

	t.wmu.Lock()
	err := t.sock.WriteClose(code, reason)
	t.wmu.Unlock()
	if err != nil {
		return t.sock.Close()
	}
	return nil
}

func (t *socketTransport) Terminate() error {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return nil
	}
	t.state = Closing
	t.mu.Unlock()
	return t.sock.Close()
}
