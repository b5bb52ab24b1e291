package hub

import (
	"context"
	"sync"
	"time"

	"github.com/vipnode/duplex/internal/pretty"
)

// ConnectionStatus is a public view of a registered connection.
type ConnectionStatus struct {
	ShortID    string    `json:"short_id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	Since      time.Time `json:"since"`
	Age        string    `json:"age"`
	Alive      bool      `json:"alive"`
	LastPong   time.Time `json:"last_pong,omitempty"`
	Pending    int       `json:"pending"`
	Buffered   int       `json:"buffered"`
}

func entryStatus(e Entry, now time.Time) ConnectionStatus {
	r := ConnectionStatus{
		ShortID: pretty.Abbrev(e.ID, 8).String(),
		Since:   e.Since,
		Age:     pretty.Age(now.Sub(e.Since)).String(),
	}
	if e.Transport != nil && e.Transport.RemoteAddr() != nil {
		r.RemoteAddr = e.Transport.RemoteAddr().String()
	}
	if e.Monitor != nil {
		r.Alive = e.Monitor.Alive()
		r.LastPong = e.Monitor.LastPong()
	}
	if e.Conn != nil {
		stats := e.Conn.Stats()
		r.State = stats.State.String()
		r.Pending = stats.Pending
		r.Buffered = stats.Buffered
	}
	return r
}

// StatusResponse is the response type for Status RPC calls.
type StatusResponse struct {
	// TimeUpdated is the time when the response was generated. Because the
	// response is cached, it can be sometime in the past.
	TimeUpdated time.Time `json:"time_updated"`

	// TimeStarted is the time when the hub was started.
	TimeStarted time.Time `json:"time_started"`

	// Version of the hub that is currently running.
	Version string `json:"version"`

	// NumConnections is the number of registered connections.
	NumConnections int `json:"num_connections"`

	// Connections lists the registered connections, oldest first.
	Connections []ConnectionStatus `json:"connections"`
}

// HubStatus is a service for providing data to a status dashboard over RPC
// or HTTP. Because status calls are unauthenticated, the service only
// provides cached public data.
type HubStatus struct {
	Registry *Registry

	// TimeStarted is the time when the server was started.
	TimeStarted time.Time

	// Version of the hub to report.
	Version string

	// CacheDuration is the time for responses to be cached.
	CacheDuration time.Duration

	mu         sync.RWMutex
	cachedResp *StatusResponse
}

// getStatus is an uncached version of Status
func (s *HubStatus) getStatus() *StatusResponse {
	now := time.Now()
	entries := s.Registry.Snapshot()
	r := &StatusResponse{
		TimeUpdated:    now,
		TimeStarted:    s.TimeStarted,
		Version:        s.Version,
		NumConnections: len(entries),
		Connections:    make([]ConnectionStatus, 0, len(entries)),
	}
	for _, e := range entries {
		r.Connections = append(r.Connections, entryStatus(e, now))
	}
	return r
}

// Status returns the status of the hub.
func (s *HubStatus) Status(ctx context.Context) (*StatusResponse, error) {
	s.mu.RLock()
	cachedResp := s.cachedResp
	s.mu.RUnlock()

	if cachedResp != nil && cachedResp.TimeUpdated.Add(s.CacheDuration).After(time.Now()) {
		// Cache is valid
		return cachedResp, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Did another request beat us to it?
	if s.cachedResp != cachedResp {
		return s.cachedResp, nil
	}

	s.cachedResp = s.getStatus()
	return s.cachedResp, nil
}
