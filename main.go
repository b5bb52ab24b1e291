package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"
	"github.com/vipnode/duplex/hub"
	"github.com/vipnode/duplex/jsonrpc2"
)

// Version of the binary, assigned during build.
var Version string = "dev"

var dialTimeout = time.Second * 10

// Options contains the flag options
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version bool   `long:"version" description:"Print version and exit."`
	Config  string `long:"config" description:"Path to a TOML config file. Flags override its values."`

	Listen struct {
		Bind        string        `long:"bind" description:"Address and port to listen on." default:"0.0.0.0:8080"`
		WS          string        `long:"ws" description:"Websocket implementation." choice:"gorilla" choice:"gobwas" default:"gorilla"`
		Interval    time.Duration `long:"interval" description:"How often peers are pinged. Peers that miss a pong are disconnected." default:"30s"`
		Rate        float64       `long:"rate" description:"Accepted connections per second, 0 is unlimited." default:"0"`
		Burst       int           `long:"burst" description:"Connections accepted in a burst when --rate is set." default:"10"`
		StatusCache time.Duration `long:"status-cache" description:"How long /status responses are cached." default:"5s"`
		AllowOrigin string        `long:"allow-origin" description:"Access-Control-Allow-Origin header for RPC over HTTP."`
	} `command:"listen" description:"Accept bidirectional RPC sessions."`

	Connect struct {
		Args struct {
			URL string `positional-arg-name:"url" description:"Websocket URL of a duplex listener."`
		} `positional-args:"yes"`
		WS           string        `long:"ws" description:"Websocket implementation." choice:"gorilla" choice:"gobwas" default:"gorilla"`
		Store        string        `long:"store" description:"Outbox storage driver, persist keeps unsent messages across restarts. (memory|persist)" default:"memory"`
		DataDir      string        `long:"datadir" description:"Path for storing the persistent outbox."`
		OutboxLimit  int           `long:"outbox-limit" description:"Maximum buffered messages of the memory outbox, 0 is unlimited." default:"0"`
		ConnectData  string        `long:"connect-data" description:"JSON value sent with the connect handshake."`
		Call         string        `long:"call" description:"Method to call once connected."`
		Params       string        `long:"params" description:"JSON params for --call or --notify."`
		Notify       string        `long:"notify" description:"Method to notify once connected."`
		Timeout      time.Duration `long:"timeout" description:"Timeout for calls." default:"30s"`
		PendingLimit int           `long:"pending-limit" description:"Maximum calls awaiting a response, 0 is unlimited." default:"0"`
		MaxAttempts  int           `long:"max-attempts" description:"Reconnect attempts before giving up, 0 retries forever." default:"0"`
		Once         bool          `long:"once" description:"Disconnect after the --call or --notify instead of staying connected."`
	} `command:"connect" description:"Connect to a duplex listener."`
}

const connectUsage = `Examples:
* Call a method and stay connected, answering calls from the listener:
  $ duplex connect ws://localhost:8080/ --call echo --params '{"hello":"world"}'

* Queue a notification that survives restarts until it is delivered:
  $ duplex connect ws://localhost:8080/ --store persist --notify log --params '"hi"' --once
`

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

func subcommand(cmd string, options Options) error {
	switch cmd {
	case "listen":
		return runListen(options)
	case "connect":
		return runConnect(options)
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Println(err)
		}
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp && parser.Active != nil {
			// Print additional usage help when run with --help
			switch parser.Active.Name {
			case "connect":
				exit(0, connectUsage)
			}
		}
		return
	}

	if options.Version {
		fmt.Println(Version)
		os.Exit(0)
	}

	if options.Config != "" {
		if err := loadConfig(options.Config, parser, &options); err != nil {
			exit(2, "failed to load config: %s\n", err)
		}
	}

	// Figure out the log level
	numVerbose := len(options.Verbose)
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}

	logLevel := logLevels[numVerbose]
	logWriter := os.Stderr

	SetLogger(golog.New(logWriter, logLevel))
	if logLevel == log.Debug {
		// Enable logging from subpackages
		hub.SetLogger(logWriter)
		jsonrpc2.SetLogger(logWriter)
	}

	cmd := parser.Active.Name
	err = subcommand(cmd, options)
	if err == nil {
		return
	}

	var closedErr jsonrpc2.ConnectionClosedError
	if errors.As(err, &closedErr) {
		exit(3, "Connection closed: %s\n", err)
	}

	switch typedErr := err.(type) {
	case ErrExplain:
		// All good.
	case jsonrpc2.UnavailableError:
		err = ErrExplain{err, `Gave up reconnecting to the listener. Check that it is running, or raise --max-attempts.`}
	case jsonrpc2.TimeoutError:
		err = ErrExplain{err, `The listener did not answer in time. Try a longer --timeout.`}
	case net.Error:
		err = ErrExplain{err, `Disconnected from server unexpectedly. Could be a connectivity issue or the server is down. Try again?`}
	case interface{ ErrorCode() int }:
		switch typedErr.ErrorCode() {
		case jsonrpc2.ErrCodeMethodNotFound:
			err = ErrExplain{err, `The listener does not provide this method.`}
		case jsonrpc2.ErrCodeInvalidParams:
			err = ErrExplain{err, `The listener rejected the params. Check the --params JSON.`}
		default:
			err = ErrExplain{err, fmt.Sprintf(`Unexpected RPC error occurred: %T (code %d).`, typedErr, typedErr.ErrorCode())}
		}
	default:
		err = ErrExplain{err, fmt.Sprintf(`Error type %T is missing an explanation. Please open an issue at https://github.com/vipnode/duplex`, err)}
	}

	exit(2, "%s failed: %s\n", cmd, err)
}

func exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

// ErrExplain annotates an error with an explanation.
type ErrExplain struct {
	Cause       error
	Explanation string
}

func (err ErrExplain) Error() string {
	return fmt.Sprintf("%s\n -> %s", err.Cause, err.Explanation)
}

func (err ErrExplain) Unwrap() error {
	return err.Cause
}
