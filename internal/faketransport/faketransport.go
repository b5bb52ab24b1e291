// Package faketransport provides a scriptable ws.Transport and ws.Dialer for
// tests. The test plays the peer: it reads what the code under test sent
// with NextSent, and injects traffic with Receive, Pong and Drop.
package faketransport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/vipnode/duplex/jsonrpc2/ws"
)

// ErrSendFailed is returned by Send while failures are injected with FailSends.
var ErrSendFailed = errors.New("faketransport: send failed")

// ErrDialFailed is returned by Dialer.Dial while failures are injected with
// FailNext.
var ErrDialFailed = errors.New("faketransport: dial failed")

// ErrTimeout is returned when waiting for a sent message or a dial times out.
var ErrTimeout = errors.New("faketransport: timed out")

type addr string

func (a addr) Network() string { return "fake" }
func (a addr) String() string  { return string(a) }

var _ ws.Transport = &Transport{}

// Transport is an in-memory ws.Transport.
type Transport struct {
	// AutoPong answers every Ping with a pong.
	AutoPong bool

	events chan ws.Event
	sent   chan []byte

	mu        sync.Mutex
	state     ws.State
	failSends int
	pings     int
	history   [][]byte
	closeCode int
}

// New returns a Transport in the Connecting state.
func New() *Transport {
	return &Transport{
		events: make(chan ws.Event, 64),
		sent:   make(chan []byte, 256),
		state:  ws.Connecting,
	}
}

// Open moves the transport to Open and emits EventOpen.
func (t *Transport) Open() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ws.Connecting {
		return
	}
	t.state = ws.Open
	t.events <- ws.Event{Kind: ws.EventOpen}
}

// Receive delivers a message from the peer.
func (t *Transport) Receive(data []byte) {
	t.emit(ws.Event{Kind: ws.EventMessage, Data: data})
}

// Pong delivers a pong from the peer.
func (t *Transport) Pong() {
	t.emit(ws.Event{Kind: ws.EventPong})
}

// Fail emits a transport error without closing.
func (t *Transport) Fail(err error) {
	t.emit(ws.Event{Kind: ws.EventError, Err: err})
}

func (t *Transport) emit(ev ws.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == ws.Closed {
		return
	}
	t.events <- ev
}

// Drop closes the transport from the peer's side.
func (t *Transport) Drop(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked(code, reason)
}

func (t *Transport) closeLocked(code int, reason string) {
	if t.state == ws.Closed {
		return
	}
	t.state = ws.Closed
	t.closeCode = code
	t.events <- ws.Event{Kind: ws.EventClose, Code: code, Reason: reason}
	close(t.events)
}

// FailSends makes the next n sends fail with ErrSendFailed.
func (t *Transport) FailSends(n int) {
	t.mu.Lock()
	t.failSends = n
	t.mu.Unlock()
}

// Pings returns the number of pings sent.
func (t *Transport) Pings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

// CloseCode returns the code the transport was closed with, or 0.
func (t *Transport) CloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

// History returns every message sent so far, in order.
func (t *Transport) History() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte{}, t.history...)
}

// NextSent waits for the next message sent by the code under test.
func (t *Transport) NextSent(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-t.sent:
		return data, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ws.Open {
		return ws.ErrNotOpen
	}
	if t.failSends > 0 {
		t.failSends--
		return ErrSendFailed
	}
	data := append([]byte{}, payload...)
	t.history = append(t.history, data)
	t.sent <- data
	return nil
}

func (t *Transport) State() ws.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Events() <-chan ws.Event {
	return t.events
}

func (t *Transport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ws.Open {
		return ws.ErrNotOpen
	}
	t.pings++
	if t.AutoPong {
		t.events <- ws.Event{Kind: ws.EventPong}
	}
	return nil
}

// Close completes immediately, as if the peer echoed the close frame.
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked(code, reason)
	return nil
}

func (t *Transport) Terminate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked(ws.CloseAbnormal, "")
	return nil
}

func (t *Transport) RemoteAddr() net.Addr {
	return addr("fake-peer")
}

var _ ws.Dialer = &Dialer{}

// Dialer hands out open fake Transports.
type Dialer struct {
	dialed chan *Transport

	mu       sync.Mutex
	failures int
	count    int
	setup    func(*Transport)
}

// NewDialer returns a Dialer. setup, if not nil, is applied to each new
// transport before it is opened.
func NewDialer(setup func(*Transport)) *Dialer {
	return &Dialer{
		dialed: make(chan *Transport, 64),
		setup:  setup,
	}
}

// FailNext makes the next n dials fail with ErrDialFailed.
func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

// Count returns the number of dial attempts.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *Dialer) Dial(ctx context.Context, url string) (ws.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.count++
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, ErrDialFailed
	}
	d.mu.Unlock()

	t := New()
	if d.setup != nil {
		d.setup(t)
	}
	t.Open()
	d.dialed <- t
	return t, nil
}

// Next waits for the next successfully dialed transport.
func (d *Dialer) Next(timeout time.Duration) (*Transport, error) {
	select {
	case t := <-d.dialed:
		return t, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}
