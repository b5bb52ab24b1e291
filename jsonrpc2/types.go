package jsonrpc2

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// ConnectMethod is the reserved method used for the session handshake.
const ConnectMethod = "connect"

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeServer         = -32000
	// ErrCodeNotConnected is returned for requests received before the
	// handshake completed.
	ErrCodeNotConnected = -32002
)

// Message is the wire envelope. A request or notification has Request set,
// a response has Response set. Notifications carry no ID.
type Message struct {
	*Request
	*Response
	ID      json.RawMessage `json:"id,omitempty"`
	Version string          `json:"jsonrpc"`
}

func (m *Message) String() string {
	out, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("<invalid message: %s>", err)
	}
	return string(out)
}

// HasID is false for notifications.
func (m *Message) HasID() bool {
	return hasID(m.ID)
}

func hasID(id json.RawMessage) bool {
	return !isNull(id)
}

type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrResponse    `json:"error,omitempty"`
}

// UnmarshalResult returns the response error if there is one, otherwise it
// decodes the result into result. A missing or null result is not an error.
func (resp *Response) UnmarshalResult(result interface{}) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || isNull(resp.Result) {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// ErrResponse is the error object of a response.
type ErrResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (err *ErrResponse) Error() string {
	return fmt.Sprintf("%d: %s", err.Code, err.Message)
}

func (err *ErrResponse) ErrorCode() int {
	return err.Code
}
