package ws

import (
	"context"
	"net/http"
)

// Upgrader takes an HTTP request, upgrades it to a websocket server and
// returns a Transport. This allows switching between different websocket
// implementations.
type Upgrader interface {
	Upgrade(*http.Request, http.ResponseWriter, http.Header) (Transport, error)
}

// Dialer opens a client-side websocket Transport to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}
