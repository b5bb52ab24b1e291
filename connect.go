package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/dgraph-io/badger/v2"
	gobwasws "github.com/gobwas/ws"
	"github.com/vipnode/duplex/jsonrpc2"
	"github.com/vipnode/duplex/jsonrpc2/ws"
	"github.com/vipnode/duplex/jsonrpc2/ws/gobwas"
	"github.com/vipnode/duplex/jsonrpc2/ws/gorilla"
	"github.com/vipnode/duplex/outbox"
	badgerOutbox "github.com/vipnode/duplex/outbox/badger"
	"golang.org/x/sync/errgroup"
)

// findDataDir returns a valid data dir, will create it if it doesn't
// exist.
func findDataDir(overridePath string) (string, error) {
	path := overridePath
	if path == "" {
		path = xdg.New("vipnode", "duplex").DataHome()
	}
	err := os.MkdirAll(path, 0700)
	return path, err
}

func newDialer(kind string) ws.Dialer {
	switch kind {
	case "gobwas":
		return &gobwas.Dialer{Dialer: gobwasws.DefaultDialer}
	default:
		return &gorilla.Dialer{}
	}
}

func openOutbox(store string, dataDir string, limit int) (outbox.Outbox, error) {
	switch store {
	case "memory":
		return outbox.Memory(limit), nil
	case "persist":
		fallthrough
	case "badger":
		dir, err := findDataDir(dataDir)
		if err != nil {
			return nil, err
		}
		box, err := badgerOutbox.Open(badger.DefaultOptions(dir).WithLogger(nil))
		if err != nil {
			return nil, ErrExplain{err, fmt.Sprintf("Failed to open the persistent outbox in %s. Is another duplex process using it? Use --datadir to pick another directory.", dir)}
		}
		logger.Infof("Persistent outbox using badger backend: %s", dir)
		return box, nil
	}
	return nil, errors.New("storage driver not implemented")
}

// parseJSON returns s as a raw JSON value, or nil if s is empty.
func parseJSON(flag string, s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, ErrExplain{fmt.Errorf("invalid JSON: %s", s), fmt.Sprintf("The value of --%s must be valid JSON, such as '{\"key\":\"value\"}' or '\"text\"'.", flag)}
	}
	return json.RawMessage(s), nil
}

func runConnect(options Options) error {
	opts := options.Connect
	if opts.Args.URL == "" {
		return ErrExplain{errors.New("missing url"), "Pass the websocket URL of a listener, such as: duplex connect ws://localhost:8080/"}
	}
	if opts.Call != "" && opts.Notify != "" {
		return ErrExplain{errors.New("both --call and --notify given"), "Pick one of --call or --notify."}
	}
	connectData, err := parseJSON("connect-data", opts.ConnectData)
	if err != nil {
		return err
	}
	params, err := parseJSON("params", opts.Params)
	if err != nil {
		return err
	}

	box, err := openOutbox(opts.Store, opts.DataDir, opts.OutboxLimit)
	if err != nil {
		return err
	}
	defer box.Close()
	if n := box.Len(); n > 0 {
		logger.Infof("Resuming with %d buffered messages.", n)
	}

	server := &jsonrpc2.Server{}
	if err := server.Register("", &DemoService{Name: "connector"}); err != nil {
		return err
	}

	backoff := jsonrpc2.NewBackoff()
	backoff.MaxAttempts = opts.MaxAttempts

	opened := make(chan struct{})
	var openOnce sync.Once
	conn := &jsonrpc2.Conn{
		Handler:      server,
		CallTimeout:  opts.Timeout,
		PendingLimit: opts.PendingLimit,
		Backoff:      backoff,
		Outbox:       box,
		OnOpen: func(data json.RawMessage) {
			logger.Infof("Connected to %s (handshake result: %s)", opts.Args.URL, data)
			openOnce.Do(func() { close(opened) })
		},
		OnClose: func(code int, reason string) {
			logger.Warningf("Disconnected: %d %s", code, reason)
		},
		OnError: func(err error) {
			logger.Debugf("Connection error: %s", err)
		},
		OnMessage: func(msg *jsonrpc2.Message) {
			logger.Infof("Received: %s", msg)
		},
	}
	if connectData != nil {
		conn.ConnectData = connectData
	}

	if opts.Notify != "" {
		// Queued before dialing, so a persistent outbox keeps it when the
		// listener is down.
		if err := conn.Notify(opts.Notify, params); err != nil {
			return err
		}
	}

	logger.Infof("Connecting to: %s", opts.Args.URL)
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	err = conn.Dial(ctx, newDialer(opts.WS), opts.Args.URL)
	cancel()
	if err != nil {
		return ErrExplain{err, "Failed to connect to the listener. Check the URL and that the listener is running."}
	}
	defer func() {
		// The outbox must outlive the session.
		conn.Close()
		conn.Wait()
	}()

	if opts.Call != "" {
		var result json.RawMessage
		if err := conn.Call(context.Background(), &result, opts.Call, params); err != nil {
			return err
		}
		fmt.Println(string(result))
	}

	if opts.Once {
		// The outbox is drained before OnOpen runs.
		select {
		case <-opened:
		case <-conn.Done():
		}
		return ignoreClosed(conn.Close(), conn.Err())
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
			logger.Info("Shutting down...")
			return conn.Close()
		case <-gctx.Done():
			return nil
		case <-conn.Done():
			return nil
		}
	})
	g.Go(func() error {
		conn.Wait()
		return ignoreClosed(nil, conn.Err())
	})
	return g.Wait()
}

// ignoreClosed returns the first meaningful error, treating a user
// initiated close as success.
func ignoreClosed(closeErr error, connErr error) error {
	if connErr != nil && !errors.Is(connErr, jsonrpc2.ErrClosed) {
		return connErr
	}
	return closeErr
}
