package jsonrpc2

import (
	"bytes"
	"encoding/json"
)

// Helpers for JSON parsing

// isArray returns true if the message is a JSON array (starts
// with '[', spaces skipped).
func isArray(raw json.RawMessage) bool {
	for _, b := range raw {
		if isSpace(b) {
			continue
		}
		return b == '['
	}
	return false
}

// isNull returns true if the message is empty or the JSON null literal.
func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimFunc(raw, func(r rune) bool { return r < 0x80 && isSpace(byte(r)) })
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// isSpace returns true if the byte is considered a space in JSON syntax.
func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
