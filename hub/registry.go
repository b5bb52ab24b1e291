package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/vipnode/duplex/jsonrpc2"
	"github.com/vipnode/duplex/jsonrpc2/ws"
)

// Entry is a registered connection.
type Entry struct {
	ID        string
	Conn      *jsonrpc2.Conn
	Transport ws.Transport
	Monitor   *Monitor
	Since     time.Time

	// Data is the connect params of the peer, set once the handshake
	// completed.
	Data json.RawMessage
}

// Registry tracks the live connections of a Hub, keyed by transport.
type Registry struct {
	mu      sync.RWMutex
	entries map[ws.Transport]*Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: map[ws.Transport]*Entry{},
	}
}

// Add registers e under its transport, replacing any previous entry.
func (r *Registry) Add(e *Entry) {
	r.mu.Lock()
	if old, ok := r.entries[e.Transport]; ok && old != e && old.Monitor != nil {
		old.Monitor.Stop()
	}
	r.entries[e.Transport] = e
	r.mu.Unlock()
}

// Remove deletes the entry for t and stops its monitor. It returns false if
// t was not registered.
func (r *Registry) Remove(t ws.Transport) bool {
	r.mu.Lock()
	e, ok := r.entries[t]
	delete(r.entries, t)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.Monitor != nil {
		e.Monitor.Stop()
	}
	return true
}

// Get returns the entry for t.
func (r *Registry) Get(t ws.Transport) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// SetData records the handshake data of the entry for t.
func (r *Registry) SetData(t ws.Transport, data json.RawMessage) {
	r.mu.Lock()
	if e, ok := r.entries[t]; ok {
		e.Data = data
	}
	r.mu.Unlock()
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the entries, oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ID < out[j].ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}
