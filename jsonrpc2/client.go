package jsonrpc2

import (
	"encoding/json"
	"sync/atomic"
)

// Client builds outbound requests with ids from a monotonic counter, so ids
// are never reused while the counter lives.
type Client struct {
	id int64
}

func (c *Client) NextID() int64 {
	return atomic.AddInt64(&c.id, 1)
}

// Request returns a request message with a fresh id.
func (c *Client) Request(method string, params interface{}) (*Message, error) {
	msg, err := newNotification(method, params)
	if err != nil {
		return nil, err
	}
	if msg.ID, err = json.Marshal(c.NextID()); err != nil {
		return nil, err
	}
	return msg, nil
}

func newNotification(method string, params interface{}) (*Message, error) {
	if method == "" {
		return nil, ErrEmptyMethod
	}
	msg := &Message{
		Request: &Request{
			Method: method,
		},
		Version: Version,
	}
	if params != nil {
		raw, err := marshalParams(params)
		if err != nil {
			return nil, err
		}
		msg.Params = raw
	}
	return msg, nil
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// newResponse builds the response to id from a handler outcome. Errors that
// carry an ErrorCode() keep their code.
func newResponse(id json.RawMessage, result interface{}, err error) *Message {
	msg := &Message{
		Response: &Response{},
		ID:       id,
		Version:  Version,
	}
	if err != nil {
		msg.Response.Error = toErrResponse(err, ErrCodeServer)
		return msg
	}
	raw, err := json.Marshal(result)
	if err != nil {
		msg.Response.Error = &ErrResponse{
			Code:    ErrCodeServer,
			Message: "failed to encode response: " + err.Error(),
		}
		return msg
	}
	msg.Response.Result = raw
	return msg
}

func toErrResponse(err error, defaultCode int) *ErrResponse {
	if errResp, ok := err.(*ErrResponse); ok {
		return errResp
	}
	code := defaultCode
	if coded, ok := err.(interface{ ErrorCode() int }); ok {
		code = coded.ErrorCode()
	}
	return &ErrResponse{
		Code:    code,
		Message: err.Error(),
	}
}
