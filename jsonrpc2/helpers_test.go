package jsonrpc2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vipnode/duplex/internal/faketransport"
)

type FruitService struct{}

func (f *FruitService) Apple() string {
	return "Apple"
}

func (f *FruitService) Banana() error {
	return nil
}

func (f *FruitService) Cherry() (string, error) {
	return "Cherry", nil
}

func (f *FruitService) Durian() error {
	return errors.New("durian failure")
}

type Pinger struct {
	PongService Service
}

func (f *Pinger) Ping() string {
	return "ping"
}

func (f *Pinger) PingPong() string {
	var pong string
	err := f.PongService.Call(context.Background(), &pong, "pong", nil)
	if err != nil {
		return fmt.Sprintf("err: %s", err)
	}
	return "ping" + pong
}

type Ponger struct{}

func (b *Ponger) Pong() string {
	return "pong"
}

type Fib struct{}

func (f *Fib) Fibonacci(ctx context.Context, a int, b int, steps int) (int, error) {
	service, err := CtxService(ctx)
	if err != nil {
		return 0, err
	}
	a, b = b, a+b
	if steps <= 0 {
		return b, nil
	}
	if err := service.Call(ctx, &b, "fibonacci", []int{a, b, steps - 1}); err != nil {
		return 0, err
	}
	return b, nil
}

type EchoService struct{}

func (e *EchoService) Echo(params map[string]interface{}) map[string]interface{} {
	return params
}

func assertEqualJSON(t *testing.T, a, b interface{}, format string, args ...interface{}) {
	t.Helper()

	aa, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Compare(aa, bb) != 0 {
		prefix := fmt.Sprintf(format, args...)
		t.Errorf(prefix+"\n   got: %q\n  want: %q", aa, bb)
	}
}

const waitTimeout = 2 * time.Second

// nextSent decodes the next message sent over a fake transport.
func nextSent(t *testing.T, tr *faketransport.Transport) *Message {
	t.Helper()
	data, err := tr.NextSent(waitTimeout)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("sent invalid message %q: %s", data, err)
	}
	return msg
}

// reply sends a response for req from the fake peer.
func reply(t *testing.T, tr *faketransport.Transport, req *Message, result interface{}, err error) {
	t.Helper()
	data, encErr := Encode(newResponse(req.ID, result, err))
	if encErr != nil {
		t.Fatal(encErr)
	}
	tr.Receive(data)
}

// handshake answers the connect request on a freshly dialed transport.
func handshake(t *testing.T, tr *faketransport.Transport) {
	t.Helper()
	req := nextSent(t, tr)
	if req.Method != ConnectMethod {
		t.Fatalf("got: %q; want %q", req.Method, ConnectMethod)
	}
	reply(t, tr, req, true, nil)
}

// waitState polls until conn reaches state.
func waitState(t *testing.T, conn *Conn, state ConnState) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for conn.State() != state {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %s, still %s", state, conn.State())
		}
		time.Sleep(time.Millisecond)
	}
}
