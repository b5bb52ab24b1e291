package jsonrpc2

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Call is an outstanding request. It completes exactly once: with the
// matching response, or with a TimeoutError, ConnectionClosedError,
// UnavailableError or context error.
type Call struct {
	Method string
	ID     json.RawMessage

	conn      *Conn
	timestamp time.Time
	timeout   time.Duration
	timer     *time.Timer
	// hook runs after completion, in the completing goroutine.
	hook func(*Call)

	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newCall(conn *Conn, msg *Message, timeout time.Duration) *Call {
	return &Call{
		Method:    msg.Method,
		ID:        msg.ID,
		conn:      conn,
		timestamp: time.Now(),
		timeout:   timeout,
		done:      make(chan struct{}),
	}
}

// start arms the call timeout. Must hold conn.mu.
func (call *Call) start() {
	if call.timeout <= 0 {
		return
	}
	call.timer = time.AfterFunc(call.timeout, func() {
		call.conn.expire(call)
	})
}

// complete must only be called by whoever unregistered the call from the
// pending table.
func (call *Call) complete(resp *Response, err error) {
	call.once.Do(func() {
		if call.timer != nil {
			call.timer.Stop()
		}
		if err == nil && resp != nil && resp.Error != nil {
			err = resp.Error
		}
		call.resp, call.err = resp, err
		close(call.done)
		if call.hook != nil {
			call.hook(call)
		}
	})
}

// Done is closed when the call completes.
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// Result returns the outcome of a completed call. It must only be used after
// Done is closed.
func (call *Call) Result() (*Response, error) {
	return call.resp, call.err
}

// Wait blocks until the call completes or ctx is done. If ctx is done first,
// the call is unregistered and fails with the context error, so a late
// response is treated as unknown.
func (call *Call) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-call.done:
	case <-ctx.Done():
		call.conn.abandon(call, ctx.Err())
		<-call.done
	}
	return call.resp, call.err
}
