package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vipnode/duplex/hub"
	"github.com/vipnode/duplex/internal/pretty"
	"github.com/vipnode/duplex/jsonrpc2"
	"github.com/vipnode/duplex/jsonrpc2/ws"
	"github.com/vipnode/duplex/jsonrpc2/ws/gobwas"
	"github.com/vipnode/duplex/jsonrpc2/ws/gorilla"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var shutdownTimeout = time.Second * 5

func newUpgrader(kind string) ws.Upgrader {
	switch kind {
	case "gobwas":
		return &gobwas.Upgrader{}
	default:
		return &gorilla.Upgrader{}
	}
}

func statusHandler(status *hub.HubStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := status.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// newListener builds the hub and the HTTP routes of `duplex listen`.
func newListener(options Options, reg *prometheus.Registry) (*hub.Hub, http.Handler, error) {
	h := hub.New(newUpgrader(options.Listen.WS))
	h.Interval = options.Listen.Interval
	h.Header = http.Header{}
	if options.Listen.AllowOrigin != "" {
		h.Header.Set("Access-Control-Allow-Origin", options.Listen.AllowOrigin)
	}
	if options.Listen.Rate > 0 {
		h.Limiter = rate.NewLimiter(rate.Limit(options.Listen.Rate), options.Listen.Burst)
	}
	h.Metrics = hub.NewMetrics()
	if err := h.Metrics.Register(reg); err != nil {
		return nil, nil, err
	}

	if err := h.Register("", &DemoService{Name: "listener"}); err != nil {
		return nil, nil, err
	}
	status := &hub.HubStatus{
		Registry:      h.Registry,
		TimeStarted:   time.Now(),
		Version:       fmt.Sprintf("duplex/%s", Version),
		CacheDuration: options.Listen.StatusCache,
	}
	if err := h.Register("hub_", status); err != nil {
		return nil, nil, err
	}

	h.OnConnection = func(id string, conn *jsonrpc2.Conn, data json.RawMessage) {
		logger.Infof("Peer connected: %s from %s (connect data: %s)", pretty.Abbrev(id, 8), conn.RemoteAddr(), data)

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		var name string
		if err := conn.Call(ctx, &name, "whoami", nil); err != nil {
			logger.Debugf("Peer %s did not answer whoami: %s", pretty.Abbrev(id, 8), err)
			return
		}
		logger.Infof("Peer %s is %q", pretty.Abbrev(id, 8), name)
	}

	mux := http.NewServeMux()
	mux.Handle("/", h)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/status", statusHandler(status))
	return h, mux, nil
}

func runListen(options Options) error {
	h, handler, err := newListener(options, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    options.Listen.Bind,
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		logger.Infof("Starting listener (version %s, %s websockets), listening on: %s", Version, options.Listen.WS, options.Listen.Bind)
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		if err != nil && strings.HasSuffix(err.Error(), "bind: permission denied") {
			err = ErrExplain{err, "Binding to low-numbered ports requires the CAP_NET_BIND_SERVICE capability. Try a --bind port above 1024."}
		} else if err != nil && strings.HasSuffix(err.Error(), "address already in use") {
			err = ErrExplain{err, "Another process is listening on this address. Pick another one with --bind."}
		}
		return err
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
			logger.Info("Shutting down...")
		case <-ctx.Done():
		}
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
