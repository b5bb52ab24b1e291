package outbox

import "sync"

// Memory returns an ephemeral in-memory Outbox. A limit of 0 means
// unbounded.
func Memory(limit int) *memoryOutbox {
	return &memoryOutbox{limit: limit}
}

var _ Outbox = &memoryOutbox{}

type memoryOutbox struct {
	mu    sync.Mutex
	limit int
	queue [][]byte
	head  int
}

func (o *memoryOutbox) Push(msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.limit > 0 && len(o.queue)-o.head >= o.limit {
		return ErrFull
	}
	o.queue = append(o.queue, msg)
	return nil
}

func (o *memoryOutbox) Peek() ([]byte, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.head >= len(o.queue) {
		return nil, false, nil
	}
	return o.queue[o.head], true, nil
}

func (o *memoryOutbox) Pop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.head >= len(o.queue) {
		return ErrEmpty
	}
	o.queue[o.head] = nil
	o.head++
	if o.head == len(o.queue) {
		// Drained, reuse the backing array.
		o.queue = o.queue[:0]
		o.head = 0
	}
	return nil
}

func (o *memoryOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) - o.head
}

func (o *memoryOutbox) Close() error {
	return nil
}
