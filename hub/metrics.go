package hub

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vipnode/duplex/jsonrpc2"
)

// Metrics are the prometheus collectors of a Hub.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Evictions         prometheus.Counter
	RPCErrors         *prometheus.CounterVec
}

// NewMetrics returns unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duplex",
			Subsystem: "hub",
			Name:      "connections_active",
			Help:      "Currently registered websocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duplex",
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "Accepted websocket connections.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duplex",
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Connections terminated for missing a pong.",
		}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duplex",
			Subsystem: "hub",
			Name:      "rpc_errors_total",
			Help:      "Connection errors not returned to a caller, by kind.",
		}, []string{"kind"}),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.ConnectionsActive, m.ConnectionsTotal, m.Evictions, m.RPCErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// errorKind labels err for the rpc_errors_total counter.
func errorKind(err error) string {
	var (
		parseErr     jsonrpc2.ParseError
		protocolErr  jsonrpc2.ProtocolError
		transportErr jsonrpc2.TransportError
		handshakeErr jsonrpc2.HandshakeError
		timeoutErr   jsonrpc2.TimeoutError
	)
	switch {
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &protocolErr):
		return "protocol"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &handshakeErr):
		return "handshake"
	case errors.As(err, &timeoutErr):
		return "timeout"
	}
	return "other"
}
