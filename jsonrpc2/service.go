package jsonrpc2

import (
	"context"

	"github.com/vipnode/duplex/jsonrpc2/ws/gobwas"
)

type serviceContext string

var ctxService serviceContext = "service"

// CtxService returns a Service associated with this request from a context
// used within a call. This is useful for initiating bidirectional calls.
func CtxService(ctx context.Context) (Service, error) {
	s, ok := ctx.Value(ctxService).(Service)
	if !ok {
		return nil, ErrContextMissingValue{ctxService}
	}
	return s, nil
}

// Service represents a remote service that can be called. Params is sent as
// is: an array for positional arguments, or a single value.
type Service interface {
	Call(ctx context.Context, result interface{}, method string, params interface{}) error
}

// Handler answers an inbound request or notification. It returns the
// response message, or nil for notifications.
type Handler interface {
	Handle(ctx context.Context, msg *Message) *Message
}

// ServePipe sets up a connected initiator/acceptor pair over an in-memory
// websocket and starts both. Each has an empty *Server as its Handler, which
// still needs services registered. Useful for testing.
func ServePipe() (client *Conn, server *Conn) {
	t1, t2 := gobwas.Pipe()
	client = &Conn{Handler: &Server{}}
	server = &Conn{Handler: &Server{}}
	go server.Serve(t2)
	client.Connect(t1)
	return client, server
}
