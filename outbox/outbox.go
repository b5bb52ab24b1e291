// Package outbox holds messages that could not be sent yet. Entries are
// already-encoded frames and are drained strictly in the order they were
// pushed.
package outbox

// Outbox is a FIFO queue of encoded messages. It should be goroutine-safe.
type Outbox interface {
	// Push appends a message to the tail.
	Push(msg []byte) error
	// Peek returns the message at the head without removing it. ok is false
	// when the outbox is empty.
	Peek() (msg []byte, ok bool, err error)
	// Pop removes the message at the head.
	Pop() error
	// Len returns the number of buffered messages.
	Len() int

	Close() error
}
