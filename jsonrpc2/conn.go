package jsonrpc2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vipnode/duplex/jsonrpc2/ws"
	"github.com/vipnode/duplex/outbox"
)

const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

var errStarted = errors.New("jsonrpc2: connection already started")

// ConnState is the session lifecycle state of a Conn.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Stats is a snapshot of a Conn's counters.
type Stats struct {
	State          ConnState
	Pending        int
	Buffered       int
	ParseErrors    int
	ProtocolErrors int
	Timeouts       int
	// Reconnects counts transports redialed after an outage. Failed dial
	// attempts are not counted.
	Reconnects int
	// OldestPending is when the oldest pending call was made.
	OldestPending time.Time
}

var _ Service = &Conn{}

// Conn is one side of a bidirectional JSON-RPC session over a ws.Transport.
// Either side can make calls once the connect handshake completed. Traffic
// issued before then, or while the transport is down, is held in the Outbox
// and replayed in order after the next successful handshake.
//
// A Conn started with Dial is the initiator: it performs the handshake and
// reconnects with Backoff when the transport closes. A Conn started with
// Serve is the acceptor and ends with its transport.
//
// Configuration fields must be set before the Conn is started.
type Conn struct {
	Client

	// Handler answers inbound requests. If nil, requests go to OnMessage.
	Handler Handler

	// CallTimeout is the default timeout used by Go and Call. Zero means
	// DefaultCallTimeout, negative disables the timeout.
	CallTimeout time.Duration
	// HandshakeTimeout bounds the connect round-trip. Zero means
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// ConnectData is sent as the params of the connect handshake.
	ConnectData interface{}
	// OnConnect answers the peer's connect handshake. Returning an error
	// rejects the session. If nil, every handshake is accepted with true.
	OnConnect func(ctx context.Context, params json.RawMessage) (interface{}, error)
	// PendingLimit caps the number of pending calls, 0 is unbounded.
	PendingLimit int
	// Backoff is the reconnection policy. If nil, NewBackoff() is used.
	Backoff *Backoff
	// Outbox buffers outbound messages. If nil, an unbounded in-memory
	// outbox is used.
	Outbox outbox.Outbox

	// OnOpen, OnMessage and OnClose run in order on their own goroutine, not
	// on the one reading the transport, so they may call the peer. Wait
	// returns after the last of them.

	// OnOpen is called after the handshake with the handshake result on the
	// initiator, or the connect params on the acceptor.
	OnOpen func(data json.RawMessage)
	// OnMessage receives notifications, and requests if Handler is nil.
	OnMessage func(msg *Message)
	// OnClose is called when the transport of an open session closes.
	OnClose func(code int, reason string)
	// OnError receives errors that are not returned to a caller. It is
	// called synchronously and must not block.
	OnError func(err error)
	// OnPong is called synchronously when the transport receives a pong.
	OnPong func()

	initOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	buffer   outbox.Outbox

	// sendMu serialises the outbound path, so the outbox is drained before
	// any later message is sent.
	sendMu sync.Mutex

	mu           sync.Mutex
	state        ConnState
	opened       bool
	transport    ws.Transport
	initiator    bool
	dialer       ws.Dialer
	url          string
	backoff      *Backoff
	reconnecting bool
	closed       bool
	terminal     error
	pending      pendingTable
	stats        Stats

	cbMu      sync.Mutex
	cbQueue   []func()
	cbRunning bool
}

func (c *Conn) init() {
	c.initOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(context.Background())
		c.done = make(chan struct{})
		c.buffer = c.Outbox
		if c.buffer == nil {
			c.buffer = outbox.Memory(0)
		}
		c.backoff = c.Backoff
		if c.backoff == nil {
			c.backoff = NewBackoff()
		}
		c.pending.limit = c.PendingLimit
	})
}

func (c *Conn) callTimeout() time.Duration {
	if c.CallTimeout == 0 {
		return DefaultCallTimeout
	}
	return c.CallTimeout
}

func (c *Conn) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return c.HandshakeTimeout
}

// State returns the current session state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	c.init()
	c.mu.Lock()
	s := c.stats
	s.State = c.state
	s.Pending = c.pending.Len()
	s.OldestPending = c.pending.oldest()
	c.mu.Unlock()
	s.Buffered = c.buffer.Len()
	return s
}

// RemoteAddr returns the peer address of the current transport, or "" when
// disconnected.
func (c *Conn) RemoteAddr() string {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil || t.RemoteAddr() == nil {
		return ""
	}
	return t.RemoteAddr().String()
}

// Dial starts the initiator side of a session. The first dial error is
// returned as is; once connected, the Conn reconnects on its own until Close
// is called or Backoff gives up.
func (c *Conn) Dial(ctx context.Context, dialer ws.Dialer, url string) error {
	c.init()
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return c.terminal
	}
	if c.transport != nil || c.reconnecting {
		c.mu.Unlock()
		return errStarted
	}
	c.initiator = true
	c.dialer, c.url = dialer, url
	c.mu.Unlock()

	t, err := dialer.Dial(ctx, url)
	if err != nil {
		return err
	}
	c.start(t)
	return nil
}

// Connect starts the initiator side of a session over an established
// transport. Without a dialer there is nothing to reconnect to, so the Conn
// ends with the transport.
func (c *Conn) Connect(t ws.Transport) error {
	c.init()
	c.mu.Lock()
	if c.transport != nil || c.reconnecting {
		c.mu.Unlock()
		return errStarted
	}
	c.initiator = true
	c.mu.Unlock()
	c.start(t)
	return nil
}

func (c *Conn) start(t ws.Transport) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Terminate()
		c.shutdown(ErrClosed)
		return
	}
	c.transport = t
	c.state = StateConnecting
	c.mu.Unlock()
	go c.serve(t)
}

// Serve runs the acceptor side of a session over t and blocks until the
// transport closes. A normal closure returns nil, otherwise the close is
// returned as a ConnectionClosedError.
func (c *Conn) Serve(t ws.Transport) error {
	c.init()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Terminate()
		c.shutdown(ErrClosed)
		return ErrClosed
	}
	if c.transport != nil || c.reconnecting {
		c.mu.Unlock()
		return errStarted
	}
	c.transport = t
	c.state = StateConnecting
	c.mu.Unlock()

	code, reason := c.serve(t)
	if code == ws.CloseNormal || code == ws.CloseGoingAway {
		return nil
	}
	return ConnectionClosedError{Code: code, Reason: reason}
}

// Close ends the session with a normal closure and stops reconnecting.
// Pending and later calls fail.
func (c *Conn) Close() error {
	c.init()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.terminal == nil {
		c.terminal = ErrClosed
	}
	t := c.transport
	idle := t == nil && !c.reconnecting
	if t != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	c.cancel()
	if idle {
		c.shutdown(ErrClosed)
		return nil
	}
	if t == nil {
		// The reconnect loop notices the cancelled context.
		return nil
	}
	if t.State() == ws.Open {
		return t.Close(ws.CloseNormal, "closed")
	}
	return t.Terminate()
}

// Wait blocks until the Conn is permanently closed.
func (c *Conn) Wait() {
	c.init()
	<-c.done
}

// Done is closed when the Conn is permanently closed.
func (c *Conn) Done() <-chan struct{} {
	c.init()
	return c.done
}

// Err returns why the Conn is no longer usable, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Go sends a request and returns immediately. The returned Call completes
// with the response or fails after CallTimeout.
func (c *Conn) Go(method string, params interface{}) (*Call, error) {
	return c.GoTimeout(method, params, c.callTimeout())
}

// GoTimeout is Go with a per-call timeout. A timeout <= 0 waits forever.
func (c *Conn) GoTimeout(method string, params interface{}, timeout time.Duration) (*Call, error) {
	c.init()
	msg, err := c.Client.Request(method, params)
	if err != nil {
		return nil, err
	}
	call := newCall(c, msg, timeout)

	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return nil, c.terminal
	}
	if err := c.pending.add(call); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	call.start()
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.abandon(call, err)
		return nil, err
	}
	return call, nil
}

// Call sends a request and blocks until the response is unmarshalled into
// result, the call fails, or ctx is done.
func (c *Conn) Call(ctx context.Context, result interface{}, method string, params interface{}) error {
	call, err := c.Go(method, params)
	if err != nil {
		return err
	}
	resp, err := call.Wait(ctx)
	if err != nil {
		return err
	}
	return resp.UnmarshalResult(result)
}

// Notify sends a notification. It does not wait for delivery.
func (c *Conn) Notify(method string, params interface{}) error {
	c.init()
	msg, err := newNotification(method, params)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Respond sends a successful response to the request with the given id.
func (c *Conn) Respond(id json.RawMessage, result interface{}) error {
	if !hasID(id) {
		return ErrNoID
	}
	c.init()
	return c.send(newResponse(id, result, nil))
}

// RespondError sends an error response to the request with the given id.
func (c *Conn) RespondError(id json.RawMessage, code int, message string) error {
	if !hasID(id) {
		return ErrNoID
	}
	c.init()
	return c.send(newResponse(id, nil, &ErrResponse{Code: code, Message: message}))
}

// send delivers an application message, or buffers it when the session is
// not open. A failed write is buffered and the transport terminated, so the
// next session replays it.
func (c *Conn) send(msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	t, state, terminal := c.transport, c.state, c.terminal
	c.mu.Unlock()
	if terminal != nil {
		return terminal
	}
	if state != StateOpen {
		return c.buffer.Push(data)
	}
	if c.buffer.Len() > 0 {
		err = c.drain(t)
	}
	if err == nil {
		if sendErr := t.Send(data); sendErr != nil {
			err = TransportError{Err: sendErr}
		}
	}
	if err == nil {
		return nil
	}
	c.reportError(err)
	if err := c.buffer.Push(data); err != nil {
		return err
	}
	t.Terminate()
	return nil
}

// sendDirect writes a handshake message, bypassing the outbox.
func (c *Conn) sendDirect(t ws.Transport, msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return t.Send(data)
}

// drain replays the outbox head to tail. Must hold sendMu.
func (c *Conn) drain(t ws.Transport) error {
	for {
		data, ok, err := c.buffer.Peek()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := t.Send(data); err != nil {
			return TransportError{Err: err}
		}
		if err := c.buffer.Pop(); err != nil {
			return err
		}
	}
}

// abandon fails call with err unless it already completed.
func (c *Conn) abandon(call *Call, err error) {
	c.mu.Lock()
	owned := c.pending.removeCall(call)
	c.mu.Unlock()
	if owned {
		call.complete(nil, err)
	}
}

func (c *Conn) expire(call *Call) {
	c.mu.Lock()
	owned := c.pending.removeCall(call)
	if owned {
		c.stats.Timeouts++
	}
	c.mu.Unlock()
	if !owned {
		return
	}
	logger.Printf("Call timed out after %s: %s (id=%s)", call.timeout, call.Method, call.ID)
	call.complete(nil, TimeoutError{
		Method: call.Method,
		ID:     call.ID,
		After:  call.timeout,
	})
}

func (c *Conn) reportError(err error) {
	logger.Printf("%s", err)
	if c.OnError != nil {
		c.OnError(err)
	}
}

// serve consumes the transport events in order until the channel closes.
func (c *Conn) serve(t ws.Transport) (code int, reason string) {
	code = ws.CloseAbnormal
	for ev := range t.Events() {
		switch ev.Kind {
		case ws.EventOpen:
			c.handleOpen(t)
		case ws.EventMessage:
			c.handleMessage(t, ev.Data)
		case ws.EventPong:
			if c.OnPong != nil {
				c.OnPong()
			}
		case ws.EventError:
			c.reportError(TransportError{Err: ev.Err})
		case ws.EventClose:
			code, reason = ev.Code, ev.Reason
		}
	}
	c.handleClose(t, code, reason)
	return code, reason
}

func (c *Conn) handleOpen(t ws.Transport) {
	c.mu.Lock()
	if c.closed || c.transport != t {
		c.mu.Unlock()
		t.Close(ws.CloseNormal, "closed")
		return
	}
	c.state = StateHandshaking
	if !c.initiator {
		// Wait for the peer's connect request.
		c.mu.Unlock()
		return
	}
	msg, err := c.Client.Request(ConnectMethod, c.ConnectData)
	if err != nil {
		c.mu.Unlock()
		c.failHandshake(t, err)
		return
	}
	call := newCall(c, msg, c.handshakeTimeout())
	call.hook = func(call *Call) {
		c.handshakeDone(t, call)
	}
	c.pending.put(call)
	call.start()
	c.mu.Unlock()

	if err := c.sendDirect(t, msg); err != nil {
		c.abandon(call, TransportError{Err: err})
	}
}

func (c *Conn) handshakeDone(t ws.Transport, call *Call) {
	resp, err := call.Result()
	if err != nil {
		c.failHandshake(t, err)
		return
	}
	c.openSession(t, resp.Result)
}

// failHandshake closes t with CloseHandshakeFailed. The close triggers the
// reconnection, as for any other close.
func (c *Conn) failHandshake(t ws.Transport, err error) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.reportError(HandshakeError{Err: err})
	if t.Close(ws.CloseHandshakeFailed, "handshake failed") != nil {
		t.Terminate()
	}
}

// openSession drains the outbox over t and promotes the session to open.
func (c *Conn) openSession(t ws.Transport, data json.RawMessage) {
	c.sendMu.Lock()
	c.mu.Lock()
	if c.transport != t || c.state != StateHandshaking {
		c.mu.Unlock()
		c.sendMu.Unlock()
		return
	}
	c.mu.Unlock()

	err := c.drain(t)
	if err == nil {
		c.mu.Lock()
		c.state = StateOpen
		c.opened = true
		if c.initiator {
			c.backoff.Reset()
		}
		c.mu.Unlock()
	}
	c.sendMu.Unlock()

	if err != nil {
		// Undelivered messages stay buffered for the next session.
		c.reportError(err)
		t.Terminate()
		return
	}
	logger.Printf("Session open: %s", t.RemoteAddr())
	if c.OnOpen != nil {
		c.dispatch(func() { c.OnOpen(data) })
	}
}

func (c *Conn) handleMessage(t ws.Transport, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		c.mu.Lock()
		c.stats.ParseErrors++
		c.mu.Unlock()
		c.reportError(err)
		return
	}
	if msg.Response != nil {
		c.handleResponse(msg)
		return
	}

	c.mu.Lock()
	state, initiator := c.state, c.initiator
	c.mu.Unlock()

	if msg.Method == ConnectMethod && msg.HasID() && !initiator {
		c.handleConnect(t, msg)
		return
	}
	if state != StateOpen {
		if msg.HasID() {
			resp := newResponse(msg.ID, nil, &ErrResponse{
				Code:    ErrCodeNotConnected,
				Message: "not connected",
			})
			if err := c.sendDirect(t, resp); err != nil {
				c.reportError(TransportError{Err: err})
			}
		} else {
			logger.Printf("Dropping notification before handshake: %s", msg.Method)
		}
		return
	}

	switch {
	case !msg.HasID() && c.OnMessage != nil:
		c.dispatch(func() { c.OnMessage(msg) })
	case c.Handler != nil:
		go c.handleRequest(msg)
	case c.OnMessage != nil:
		c.dispatch(func() { c.OnMessage(msg) })
	case msg.HasID():
		resp := newResponse(msg.ID, nil, &ErrResponse{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		})
		if err := c.send(resp); err != nil {
			c.reportError(err)
		}
	default:
		logger.Printf("Dropping unhandled notification: %s", msg.Method)
	}
}

func (c *Conn) handleResponse(msg *Message) {
	c.mu.Lock()
	call, ok := c.pending.remove(string(msg.ID))
	if !ok {
		c.stats.ProtocolErrors++
	}
	c.mu.Unlock()

	if !ok {
		c.reportError(ProtocolError{ID: msg.ID, Reason: "response does not match a pending call"})
		return
	}
	call.complete(msg.Response, nil)
}

// handleConnect answers the peer's handshake. It runs on the event loop, so
// nothing else is read from the peer until the session is open.
func (c *Conn) handleConnect(t ws.Transport, msg *Message) {
	if c.State() == StateOpen {
		resp := newResponse(msg.ID, nil, &ErrResponse{
			Code:    ErrCodeInvalidRequest,
			Message: "already connected",
		})
		if err := c.send(resp); err != nil {
			c.reportError(err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.handshakeTimeout())
	var result interface{} = true
	var err error
	if c.OnConnect != nil {
		result, err = c.OnConnect(context.WithValue(ctx, ctxService, c), msg.Params)
	}
	cancel()

	if sendErr := c.sendDirect(t, newResponse(msg.ID, result, err)); sendErr != nil {
		c.reportError(TransportError{Err: sendErr})
		return
	}
	if err != nil {
		c.reportError(HandshakeError{Err: err})
		return
	}
	c.openSession(t, msg.Params)
}

func (c *Conn) handleRequest(msg *Message) {
	ctx := context.WithValue(c.ctx, ctxService, c)
	resp := c.Handler.Handle(ctx, msg)
	if resp == nil || !msg.HasID() {
		return
	}
	if err := c.send(resp); err != nil {
		logger.Printf("Failed to send response to %s: %s", msg.Method, err)
	}
}

func (c *Conn) handleClose(t ws.Transport, code int, reason string) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	wasOpen := c.opened
	c.opened = false
	c.state = StateClosed
	c.transport = nil
	calls := c.pending.drain()
	retry := c.initiator && c.dialer != nil && !c.closed
	c.mu.Unlock()

	closeErr := ConnectionClosedError{Code: code, Reason: reason}
	for _, call := range calls {
		call.complete(nil, closeErr)
	}
	logger.Printf("Transport closed: %d %q (rejected %d pending)", code, reason, len(calls))
	if wasOpen && c.OnClose != nil {
		c.dispatch(func() { c.OnClose(code, reason) })
	}
	if retry {
		c.reconnect()
		return
	}
	c.shutdown(closeErr)
}

// reconnect starts the reconnection loop unless one is already running.
func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	if c.closed || c.terminal != nil {
		c.mu.Unlock()
		c.shutdown(ErrClosed)
		return
	}
	c.reconnecting = true
	c.state = StateConnecting
	c.mu.Unlock()
	go c.reconnectLoop()
}

func (c *Conn) reconnectLoop() {
	var lastErr error
	for {
		if c.ctx.Err() != nil {
			c.stopReconnecting(ErrClosed)
			return
		}
		c.mu.Lock()
		delay, ok := c.backoff.Next()
		attempts := c.backoff.Attempt()
		dialer, url := c.dialer, c.url
		c.mu.Unlock()
		if !ok {
			err := UnavailableError{Attempts: attempts, Err: lastErr}
			c.reportError(err)
			c.stopReconnecting(err)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			c.stopReconnecting(ErrClosed)
			return
		}

		logger.Printf("Reconnecting to %s (attempt %d)", url, attempts)

		t, err := dialer.Dial(c.ctx, url)
		if err != nil {
			lastErr = err
			c.reportError(TransportError{Err: err})
			continue
		}

		c.mu.Lock()
		c.reconnecting = false
		if c.closed {
			c.mu.Unlock()
			t.Terminate()
			c.shutdown(ErrClosed)
			return
		}
		c.transport = t
		c.stats.Reconnects++
		c.mu.Unlock()
		go c.serve(t)
		return
	}
}

func (c *Conn) stopReconnecting(err error) {
	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
	c.shutdown(err)
}

// shutdown makes the Conn terminal. The first terminal error is kept.
func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.terminal == nil {
		c.terminal = err
	}
	err = c.terminal
	c.state = StateClosed
	calls := c.pending.drain()
	c.mu.Unlock()

	for _, call := range calls {
		call.complete(nil, err)
	}
	c.cancel()
	c.dispatch(func() {
		c.doneOnce.Do(func() {
			close(c.done)
		})
	})
}

// dispatch queues fn behind the callbacks dispatched before it.
func (c *Conn) dispatch(fn func()) {
	c.cbMu.Lock()
	c.cbQueue = append(c.cbQueue, fn)
	if c.cbRunning {
		c.cbMu.Unlock()
		return
	}
	c.cbRunning = true
	c.cbMu.Unlock()
	go c.runCallbacks()
}

func (c *Conn) runCallbacks() {
	for {
		c.cbMu.Lock()
		if len(c.cbQueue) == 0 {
			c.cbRunning = false
			c.cbMu.Unlock()
			return
		}
		fn := c.cbQueue[0]
		c.cbQueue[0] = nil
		c.cbQueue = c.cbQueue[1:]
		c.cbMu.Unlock()
		fn()
	}
}
