package jsonrpc2

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyMethod is returned when a call or notification has no method.
	ErrEmptyMethod = errors.New("jsonrpc2: empty method")
	// ErrNoID is returned when responding without a request id, such as to
	// a notification.
	ErrNoID = errors.New("jsonrpc2: cannot respond without a request id")
	// ErrPendingLimit is returned when a call would exceed Conn.PendingLimit.
	ErrPendingLimit = errors.New("jsonrpc2: too many pending calls")
	// ErrClosed is returned for operations on a connection that was closed
	// with Conn.Close.
	ErrClosed = errors.New("jsonrpc2: connection closed")
)

// TransportError is a send or receive failure at the socket layer. Messages
// that failed to send are buffered for replay, so this is only reported to
// Conn.OnError.
type TransportError struct {
	Err error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}

// ParseError is a frame that did not decode as a valid envelope. The frame is
// dropped and the connection continues.
type ParseError struct {
	Data []byte
	Err  error
}

func (err ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", err.Err)
}

func (err ParseError) Unwrap() error {
	return err.Err
}

func (err ParseError) ErrorCode() int {
	return ErrCodeParse
}

// ProtocolError is a response that does not match any pending call.
type ProtocolError struct {
	ID     json.RawMessage
	Reason string
}

func (err ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (id=%s)", err.Reason, err.ID)
}

// HandshakeError is returned when the connect round-trip fails. The
// connection is not promoted to open.
type HandshakeError struct {
	Err error
}

func (err HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed: %s", err.Err)
}

func (err HandshakeError) Unwrap() error {
	return err.Err
}

// TimeoutError rejects a call which did not receive a response in time.
type TimeoutError struct {
	Method string
	ID     json.RawMessage
	After  time.Duration
}

func (err TimeoutError) Error() string {
	return fmt.Sprintf("call timed out after %s: %s (id=%s)", err.After, err.Method, err.ID)
}

// Timeout implements the net.Error convention.
func (err TimeoutError) Timeout() bool {
	return true
}

// ConnectionClosedError rejects calls that were pending when the transport
// closed.
type ConnectionClosedError struct {
	Code   int
	Reason string
}

func (err ConnectionClosedError) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("connection closed: %d", err.Code)
	}
	return fmt.Sprintf("connection closed: %d %s", err.Code, err.Reason)
}

// UnavailableError is terminal: reconnection attempts were exhausted.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (err UnavailableError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("connection unavailable after %d attempts", err.Attempts)
	}
	return fmt.Sprintf("connection unavailable after %d attempts: %s", err.Attempts, err.Err)
}

func (err UnavailableError) Unwrap() error {
	return err.Err
}

// ErrContextMissingValue is returned when a context is missing an expected value.
type ErrContextMissingValue struct {
	Key serviceContext
}

func (err ErrContextMissingValue) Error() string {
	return fmt.Sprintf("context missing value: %s", err.Key)
}
