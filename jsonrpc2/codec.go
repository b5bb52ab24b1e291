package jsonrpc2

import (
	"encoding/json"
	"errors"
)

// Encode serializes a message for the wire. The version tag is filled in if
// it is missing.
func Encode(msg *Message) ([]byte, error) {
	if msg.Version == "" {
		msg.Version = Version
	}
	return json.Marshal(msg)
}

// Decode parses a single envelope. Any failure is returned as a ParseError.
func Decode(data []byte) (*Message, error) {
	if isArray(data) {
		return nil, ParseError{Data: data, Err: errors.New("batch messages are not supported")}
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ParseError{Data: data, Err: err}
	}
	if err := checkVersion(msg.Version); err != nil {
		return nil, ParseError{Data: data, Err: err}
	}
	switch {
	case msg.Request != nil && msg.Response != nil:
		return nil, ParseError{Data: data, Err: errors.New("message is both a request and a response")}
	case msg.Request != nil:
		if msg.Method == "" {
			return nil, ParseError{Data: data, Err: errors.New("missing method")}
		}
	case msg.Response != nil:
		if msg.Response.Error != nil && len(msg.Response.Result) > 0 {
			return nil, ParseError{Data: data, Err: errors.New("response has both result and error")}
		}
	default:
		return nil, ParseError{Data: data, Err: errors.New("missing method, result or error")}
	}
	return &msg, nil
}
