package gorilla

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vipnode/duplex/jsonrpc2/ws"
)

func waitEvent(t *testing.T, tr ws.Transport, kind ws.EventKind) ws.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestWebSocketTransport(t *testing.T) {
	serverCh := make(chan ws.Transport, 1)
	upgrader := &Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := upgrader.Upgrade(r, w, nil)
		if err != nil {
			t.Error(err)
			return
		}
		serverCh <- tr
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := WebSocketDial(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	server := <-serverCh

	waitEvent(t, client, ws.EventOpen)
	waitEvent(t, server, ws.EventOpen)

	if err := client.Send([]byte(`{"jsonrpc":"2.0","method":"foo"}`)); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, server, ws.EventMessage)
	if got, want := string(ev.Data), `{"jsonrpc":"2.0","method":"foo"}`; got != want {
		t.Errorf("got: %q; want %q", got, want)
	}

	// Pongs are answered by the peer's read loop.
	if err := server.Ping(); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, server, ws.EventPong)

	if err := client.Close(ws.CloseNormal, "bye"); err != nil {
		t.Fatal(err)
	}
	ev = waitEvent(t, server, ws.EventClose)
	if ev.Code != ws.CloseNormal || ev.Reason != "bye" {
		t.Errorf("unexpected server close: %+v", ev)
	}
	ev = waitEvent(t, client, ws.EventClose)
	if ev.Code != ws.CloseNormal {
		t.Errorf("unexpected client close: %+v", ev)
	}
}
