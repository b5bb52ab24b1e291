package jsonrpc2

import (
	"context"
	"encoding/json"
	"testing"
)

func TestServer(t *testing.T) {
	service := &FruitService{}
	s := Server{}
	if err := s.Register("foo_", service); err != nil {
		t.Error(err)
	}

	resp := s.Handle(context.Background(), &Message{
		ID:      json.RawMessage([]byte("1")),
		Version: Version,
		Request: &Request{
			Method: "foo_apple",
		},
	})
	if resp.Error != nil {
		t.Errorf("unexpected error: %q", resp)
	}

	if string(resp.Result) != `"Apple"` {
		t.Errorf("unexpected result: %q", resp.Result)
	}

	resp = s.Handle(context.Background(), &Message{
		ID:      json.RawMessage([]byte("2")),
		Version: Version,
		Request: &Request{
			Method: "foo_banana",
		},
	})
	if resp.Error != nil {
		t.Errorf("unexpected error: %q", resp)
	}

	if string(resp.Result) != "null" {
		t.Errorf("unexpected result: %q", resp.Result)
	}

	resp = s.Handle(context.Background(), &Message{
		ID:      json.RawMessage([]byte("3")),
		Version: Version,
		Request: &Request{
			Method: "foo_durian",
		},
	})
	if resp.Error == nil || resp.Error.Code != ErrCodeInternal {
		t.Errorf("expected internal error: %s", resp)
	}
}

func TestServerErrors(t *testing.T) {
	s := Server{}
	if err := s.Register("", &Fib{}); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterMethod("math_fib", &Fib{}, "Fibonacci"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		Method string
		Params string
		Code   int
	}{
		{"missing", "", ErrCodeMethodNotFound},
		{"fibonacci", `[1, 2]`, ErrCodeInvalidParams},
		{"fibonacci", `[1, 2, 3, 4]`, ErrCodeInvalidParams},
		{"math_fib", `["a", 2, 3]`, ErrCodeInvalidParams},
		// No service in the context
		{"math_fib", `[0, 1, 2]`, ErrCodeInternal},
	}

	for i, tc := range cases {
		msg := &Message{
			ID:      json.RawMessage("1"),
			Version: Version,
			Request: &Request{Method: tc.Method, Params: json.RawMessage(tc.Params)},
		}
		resp := s.Handle(context.Background(), msg)
		if resp.Error == nil {
			t.Errorf("case #%d: expected error, got: %s", i, resp)
			continue
		}
		if got, want := resp.Error.Code, tc.Code; got != want {
			t.Errorf("case #%d: got: %d; want %d", i, got, want)
		}
	}
}

func TestServerNotification(t *testing.T) {
	s := Server{}
	if err := s.Register("", &FruitService{}); err != nil {
		t.Fatal(err)
	}
	msg, err := newNotification("apple", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp := s.Handle(context.Background(), msg); resp != nil {
		t.Errorf("notification should not get a response: %s", resp)
	}
}

func TestParamsSingleArgument(t *testing.T) {
	s := Server{}
	if err := s.Register("", &EchoService{}); err != nil {
		t.Fatal(err)
	}
	msg := &Message{
		ID:      json.RawMessage("7"),
		Version: Version,
		Request: &Request{Method: "echo", Params: json.RawMessage(`{"msg":"hi"}`)},
	}
	resp := s.Handle(context.Background(), msg)
	if got, want := string(resp.Result), `{"msg":"hi"}`; got != want {
		t.Errorf("got: %q; want %q", got, want)
	}
}
