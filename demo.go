package main

import (
	"context"
	"time"

	"github.com/vipnode/duplex/jsonrpc2"
)

// DemoService is registered on both ends of a session so either peer has
// something to call.
type DemoService struct {
	Name string
}

// Echo returns its params.
func (s *DemoService) Echo(v interface{}) interface{} {
	return v
}

// Ping returns "pong".
func (s *DemoService) Ping() string {
	return "pong"
}

// Whoami returns the name of this end of the session.
func (s *DemoService) Whoami() string {
	return s.Name
}

// PingBack pings the caller over the same session and reports the round
// trip time.
func (s *DemoService) PingBack(ctx context.Context) (string, error) {
	service, err := jsonrpc2.CtxService(ctx)
	if err != nil {
		return "", err
	}
	start := time.Now()
	var pong string
	if err := service.Call(ctx, &pong, "ping", nil); err != nil {
		return "", err
	}
	return time.Since(start).String(), nil
}
