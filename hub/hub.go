// Package hub is the listening side of duplex: it accepts websocket
// connections, runs a jsonrpc2.Conn acceptor for each, and keeps a registry
// of the live ones. Every connection is supervised by a Monitor which evicts
// peers that stop answering pings.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vipnode/duplex/internal/pretty"
	"github.com/vipnode/duplex/jsonrpc2"
	"github.com/vipnode/duplex/jsonrpc2/ws"
	"golang.org/x/time/rate"
)

// ErrClosed is returned when serving a transport on a closed Hub.
var ErrClosed = errors.New("hub: closed")

var _ http.Handler = &Hub{}

// Hub accepts websocket sessions on GET upgrade requests and answers one-shot
// JSON-RPC on POST requests, both from the same method registry.
//
// Methods registered on the embedded HTTPServer (or its Handler override)
// answer requests from every connected peer. Configuration fields must be set
// before the Hub serves its first request.
type Hub struct {
	jsonrpc2.HTTPServer

	// Upgrader is the websocket implementation used for GET requests.
	Upgrader ws.Upgrader
	// Header is added to POST responses (optional).
	Header http.Header

	// Interval is how often connections are probed. Zero means
	// DefaultInterval, negative disables the probe ticker.
	Interval time.Duration
	// Limiter bounds the rate of accepted upgrades (optional). Requests over
	// the limit are answered with 429.
	Limiter *rate.Limiter
	// CallTimeout and PendingLimit are passed to every jsonrpc2.Conn.
	CallTimeout  time.Duration
	PendingLimit int

	// OnConnect answers the connect handshake of a peer. If nil, every
	// handshake is accepted.
	OnConnect func(ctx context.Context, params json.RawMessage) (interface{}, error)
	// OnConnection is called in its own goroutine once a peer completed the
	// handshake, with the peer's connect params. The Conn can be used to call
	// back into the peer.
	OnConnection func(id string, conn *jsonrpc2.Conn, data json.RawMessage)

	// Metrics are updated when set (optional).
	Metrics *Metrics

	Registry *Registry

	mu     sync.Mutex
	closed bool
}

// New returns a Hub that upgrades websocket requests with upgrader.
func New(upgrader ws.Upgrader) *Hub {
	return &Hub{
		Upgrader: upgrader,
		Registry: NewRegistry(),
	}
}

func (h *Hub) handler() jsonrpc2.Handler {
	if h.HTTPServer.Handler != nil {
		return h.HTTPServer.Handler
	}
	return &h.HTTPServer.Server
}

func isUpgrade(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "upgrade") {
			return true
		}
	}
	return false
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		// Assume RPC over HTTP
		for k, values := range h.Header {
			for _, v := range values {
				w.Header().Set(k, v)
			}
		}
		h.HTTPServer.ServeHTTP(w, r)
	case http.MethodGet:
		if !isUpgrade(r) {
			http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
			return
		}
		if h.Limiter != nil && !h.Limiter.Allow() {
			logger.Printf("rejecting upgrade from %s: rate limited", r.RemoteAddr)
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		// Assume WebSocket upgrade request
		t, err := h.Upgrader.Upgrade(r, w, nil)
		if err != nil {
			logger.Printf("websocket upgrade error from %s: %s", r.RemoteAddr, err)
			return
		}
		if err := h.ServeTransport(t); err != nil {
			logger.Printf("connection from %s ended: %s", r.RemoteAddr, err)
		}
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

// ServeTransport runs an acceptor session over t and blocks until t closes.
// The connection is registered and monitored for as long as it lasts.
func (h *Hub) ServeTransport(t ws.Transport) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		t.Terminate()
		return ErrClosed
	}
	if h.Registry == nil {
		h.Registry = NewRegistry()
	}
	h.mu.Unlock()

	id := uuid.New().String()
	mon := NewMonitor(t, h.Interval)
	conn := &jsonrpc2.Conn{
		Handler:      h.handler(),
		CallTimeout:  h.CallTimeout,
		PendingLimit: h.PendingLimit,
		OnConnect:    h.OnConnect,
		OnPong:       mon.Pong,
		OnError: func(err error) {
			if h.Metrics != nil {
				h.Metrics.RPCErrors.WithLabelValues(errorKind(err)).Inc()
			}
		},
	}
	conn.OnOpen = func(data json.RawMessage) {
		h.Registry.SetData(t, data)
		logger.Printf("connection %s from %s opened", pretty.Abbrev(id, 8), conn.RemoteAddr())
		if h.OnConnection != nil {
			go h.OnConnection(id, conn, data)
		}
	}
	mon.OnEvict = func() {
		logger.Printf("evicting connection %s: no pong", pretty.Abbrev(id, 8))
		if h.Metrics != nil {
			h.Metrics.Evictions.Inc()
		}
		h.remove(t)
	}

	h.Registry.Add(&Entry{
		ID:        id,
		Conn:      conn,
		Transport: t,
		Monitor:   mon,
		Since:     time.Now(),
	})
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ConnectionsActive.Inc()
	}
	if h.Interval >= 0 {
		mon.Start()
	}

	err := conn.Serve(t)
	h.remove(t)
	return err
}

func (h *Hub) remove(t ws.Transport) {
	if !h.Registry.Remove(t) {
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsActive.Dec()
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	if h.Registry == nil {
		return 0
	}
	return h.Registry.Len()
}

// Close stops accepting transports and closes every registered connection
// with a going-away status. Transports that cannot be closed gracefully are
// terminated.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	if h.Registry == nil {
		return nil
	}
	for _, e := range h.Registry.Snapshot() {
		e.Monitor.Stop()
		if e.Transport.State() != ws.Open || e.Transport.Close(ws.CloseGoingAway, "server shutdown") != nil {
			e.Transport.Terminate()
		}
	}
	return nil
}
