package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vipnode/duplex/internal/faketransport"
	"github.com/vipnode/duplex/jsonrpc2"
	"github.com/vipnode/duplex/jsonrpc2/ws"
	"github.com/vipnode/duplex/jsonrpc2/ws/gorilla"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const waitTimeout = 2 * time.Second

type EchoService struct{}

func (e *EchoService) Echo(params map[string]interface{}) map[string]interface{} {
	return params
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// connectPeer opens tr and completes the connect handshake as the dialing
// peer would.
func connectPeer(t *testing.T, tr *faketransport.Transport, data string) {
	t.Helper()
	tr.Open()
	tr.Receive([]byte(`{"jsonrpc":"2.0","id":1,"method":"connect","params":` + data + `}`))
	sent, err := tr.NextSent(waitTimeout)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := jsonrpc2.Decode(sent)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Response == nil || msg.Error != nil {
		t.Fatalf("handshake failed: %s", sent)
	}
}

func newTestHub(t *testing.T) (*Hub, *Metrics) {
	t.Helper()
	h := New(&gorilla.Upgrader{})
	h.Interval = -1
	h.Metrics = NewMetrics()
	if err := h.Metrics.Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	return h, h.Metrics
}

func TestHubEvictsSilentPeer(t *testing.T) {
	h, metrics := newTestHub(t)
	tr := faketransport.New()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ServeTransport(tr)
	}()
	connectPeer(t, tr, `{"name":"silent"}`)
	waitFor(t, "registration", func() bool {
		entries := h.Registry.Snapshot()
		return len(entries) == 1 && entries[0].Data != nil
	})

	entry := h.Registry.Snapshot()[0]
	if got, want := string(entry.Data), `{"name":"silent"}`; got != want {
		t.Errorf("got: %q; want %q", got, want)
	}

	if !entry.Monitor.Tick() {
		t.Fatal("first tick evicted the peer")
	}
	if got, want := tr.Pings(), 1; got != want {
		t.Errorf("got: %d pings; want %d", got, want)
	}

	// The peer never answers the ping.
	if entry.Monitor.Tick() {
		t.Fatal("second tick did not evict the peer")
	}
	if got, want := tr.CloseCode(), ws.CloseAbnormal; got != want {
		t.Errorf("got: close code %d; want %d", got, want)
	}
	if _, ok := h.Registry.Get(tr); ok {
		t.Error("evicted peer is still registered")
	}

	select {
	case err := <-errCh:
		var closed jsonrpc2.ConnectionClosedError
		if !errors.As(err, &closed) || closed.Code != ws.CloseAbnormal {
			t.Errorf("got: %v; want ConnectionClosedError with code %d", err, ws.CloseAbnormal)
		}
	case <-time.After(waitTimeout):
		t.Fatal("ServeTransport did not return after eviction")
	}

	if got := testutil.ToFloat64(metrics.Evictions); got != 1 {
		t.Errorf("got: %v evictions; want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ConnectionsActive); got != 0 {
		t.Errorf("got: %v active connections; want 0", got)
	}
	if got := testutil.ToFloat64(metrics.ConnectionsTotal); got != 1 {
		t.Errorf("got: %v total connections; want 1", got)
	}
}

func TestHubKeepsResponsivePeer(t *testing.T) {
	h, metrics := newTestHub(t)
	tr := faketransport.New()
	tr.AutoPong = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ServeTransport(tr)
	}()
	connectPeer(t, tr, `true`)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })
	mon := h.Registry.Snapshot()[0].Monitor

	for i := 0; i < 3; i++ {
		if !mon.Tick() {
			t.Fatalf("tick #%d evicted a responsive peer", i)
		}
		waitFor(t, "pong", mon.Alive)
	}
	if got, want := tr.Pings(), 3; got != want {
		t.Errorf("got: %d pings; want %d", got, want)
	}

	tr.Drop(ws.CloseNormal, "bye")
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("normal closure returned: %s", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("ServeTransport did not return after close")
	}
	if got := h.Len(); got != 0 {
		t.Errorf("got: %d registered; want 0", got)
	}
	if got := testutil.ToFloat64(metrics.Evictions); got != 0 {
		t.Errorf("got: %v evictions; want 0", got)
	}
}

func TestHubRejectsBeforeHandshake(t *testing.T) {
	h, metrics := newTestHub(t)
	if err := h.Register("", &EchoService{}); err != nil {
		t.Fatal(err)
	}
	tr := faketransport.New()
	go h.ServeTransport(tr)

	tr.Open()
	tr.Receive([]byte(`{"jsonrpc":"2.0","id":7,"method":"echo","params":{}}`))
	sent, err := tr.NextSent(waitTimeout)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := jsonrpc2.Decode(sent)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Response == nil || msg.Error == nil || msg.Error.Code != jsonrpc2.ErrCodeNotConnected {
		t.Errorf("got: %s; want error %d", sent, jsonrpc2.ErrCodeNotConnected)
	}

	tr.Receive([]byte(`{"jsonrpc":"2.0","id":99,"result":true}`))
	waitFor(t, "protocol error", func() bool {
		return testutil.ToFloat64(metrics.RPCErrors.WithLabelValues("protocol")) == 1
	})
	h.Close()
}

func TestHubClose(t *testing.T) {
	h, _ := newTestHub(t)
	tr := faketransport.New()
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ServeTransport(tr)
	}()
	connectPeer(t, tr, `true`)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("going away returned: %s", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("ServeTransport did not return after Close")
	}
	if got, want := tr.CloseCode(), ws.CloseGoingAway; got != want {
		t.Errorf("got: close code %d; want %d", got, want)
	}

	late := faketransport.New()
	if err := h.ServeTransport(late); err != ErrClosed {
		t.Errorf("got: %v; want %v", err, ErrClosed)
	}
}

func TestHubHTTP(t *testing.T) {
	h, _ := newTestHub(t)
	h.Limiter = rate.NewLimiter(0, 0)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got, want := w.Code, http.StatusBadRequest; got != want {
		t.Errorf("plain GET: got: %d; want %d", got, want)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got, want := w.Code, http.StatusTooManyRequests; got != want {
		t.Errorf("rate limited upgrade: got: %d; want %d", got, want)
	}

	req = httptest.NewRequest(http.MethodDelete, "/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got, want := w.Code, http.StatusMethodNotAllowed; got != want {
		t.Errorf("DELETE: got: %d; want %d", got, want)
	}
}

func TestHubWebsocket(t *testing.T) {
	h, metrics := newTestHub(t)
	h.Header = http.Header{}
	h.Header.Set("Access-Control-Allow-Origin", "*")
	if err := h.Register("", &EchoService{}); err != nil {
		t.Fatal(err)
	}
	status := &HubStatus{Registry: h.Registry, Version: "test"}
	if err := h.Register("hub_", status); err != nil {
		t.Fatal(err)
	}

	connected := make(chan string, 1)
	h.OnConnect = func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "welcome", nil
	}
	h.OnConnection = func(id string, conn *jsonrpc2.Conn, data json.RawMessage) {
		connected <- string(data)
	}

	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	opened := make(chan string, 1)
	client := &jsonrpc2.Conn{
		ConnectData: map[string]string{"name": "alice"},
		OnOpen: func(data json.RawMessage) {
			opened <- string(data)
		},
	}
	if err := client.Dial(context.Background(), &gorilla.Dialer{}, url); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	select {
	case got := <-opened:
		if want := `"welcome"`; got != want {
			t.Errorf("got: %q; want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatal("client session did not open")
	}
	select {
	case got := <-connected:
		if want := `{"name":"alice"}`; got != want {
			t.Errorf("got: %q; want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatal("OnConnection was not called")
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 5; i++ {
		i := i
		g.Go(func() error {
			var got map[string]int
			if err := client.Call(ctx, &got, "echo", map[string]int{"n": i}); err != nil {
				return err
			}
			if got["n"] != i {
				return errors.New("echo mismatch")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	var resp StatusResponse
	if err := client.Call(context.Background(), &resp, "hub_status", nil); err != nil {
		t.Fatal(err)
	}
	if resp.NumConnections != 1 || len(resp.Connections) != 1 {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if got, want := resp.Connections[0].State, "open"; got != want {
		t.Errorf("got: %q; want %q", got, want)
	}

	// One-shot RPC over POST shares the registry.
	rpc := jsonrpc2.HTTPService{Endpoint: srv.URL}
	var echoed map[string]string
	if err := rpc.Call(context.Background(), &echoed, "echo", map[string]string{"via": "post"}); err != nil {
		t.Fatal(err)
	}
	if echoed["via"] != "post" {
		t.Errorf("got: %v; want via=post", echoed)
	}

	if got := testutil.ToFloat64(metrics.ConnectionsActive); got != 1 {
		t.Errorf("got: %v active connections; want 1", got)
	}
	client.Close()
	waitFor(t, "unregister", func() bool { return h.Len() == 0 })
}
