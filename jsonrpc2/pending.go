package jsonrpc2

import (
	"sort"
	"time"
)

// pendingTable correlates outstanding calls by the string form of their id.
// It is guarded by the owning Conn's mutex.
type pendingTable struct {
	// limit is a hard cap, 0 is unbounded.
	limit int
	calls map[string]*Call
}

func (p *pendingTable) add(call *Call) error {
	if p.limit > 0 && len(p.calls) >= p.limit {
		return ErrPendingLimit
	}
	p.put(call)
	return nil
}

// put registers call regardless of the limit.
func (p *pendingTable) put(call *Call) {
	if p.calls == nil {
		p.calls = map[string]*Call{}
	}
	p.calls[string(call.ID)] = call
}

// remove unregisters and returns the call for key.
func (p *pendingTable) remove(key string) (*Call, bool) {
	call, ok := p.calls[key]
	if ok {
		delete(p.calls, key)
	}
	return call, ok
}

// removeCall unregisters call if it is still the one registered under its
// id. It reports whether the caller now owns completing it.
func (p *pendingTable) removeCall(call *Call) bool {
	key := string(call.ID)
	if p.calls[key] != call {
		return false
	}
	delete(p.calls, key)
	return true
}

func (p *pendingTable) Len() int {
	return len(p.calls)
}

// drain removes every call, oldest first.
func (p *pendingTable) drain() []*Call {
	queue := make(pendingQueue, 0, len(p.calls))
	for _, call := range p.calls {
		queue = append(queue, call)
	}
	sort.Sort(queue)
	p.calls = nil
	return queue
}

type pendingQueue []*Call

func (p pendingQueue) Len() int {
	return len(p)
}

func (p pendingQueue) Less(i, j int) bool {
	return p[i].timestamp.Before(p[j].timestamp)
}

func (p pendingQueue) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
}

// oldest returns when the oldest pending call was made, or the zero time.
func (p *pendingTable) oldest() time.Time {
	var t time.Time
	for _, call := range p.calls {
		if t.IsZero() || call.timestamp.Before(t) {
			t = call.timestamp
		}
	}
	return t
}
