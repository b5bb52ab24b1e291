package hub

import (
	"sync"
	"time"
)

// DefaultInterval is how often a Monitor probes its transport.
const DefaultInterval = 30 * time.Second

// Prober is the part of a ws.Transport a Monitor needs.
type Prober interface {
	Ping() error
	Terminate() error
}

// Monitor supervises the liveness of one accepted transport. Every interval
// it checks whether a pong arrived since the previous probe: if so it sends
// another ping, otherwise it terminates the transport and calls OnEvict.
type Monitor struct {
	// OnEvict is called once, after the transport was terminated for missing
	// a pong.
	OnEvict func()

	target   Prober
	interval time.Duration

	mu       sync.Mutex
	alive    bool
	stopped  bool
	lastPing time.Time
	lastPong time.Time
	stopCh   chan struct{}
}

// NewMonitor returns a stopped Monitor for target. A zero interval means
// DefaultInterval. The transport starts out alive.
func NewMonitor(target Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		target:   target,
		interval: interval,
		alive:    true,
		stopCh:   make(chan struct{}),
	}
}

// Start runs Tick every interval until Stop is called or the transport is
// evicted.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.Tick() {
					return
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Tick runs one probe round. It returns false once the monitor is stopped,
// either by Stop or because this tick evicted the transport.
func (m *Monitor) Tick() bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	if !m.alive {
		m.stopLocked()
		lastPing := m.lastPing
		m.mu.Unlock()

		logger.Printf("no pong since %s, terminating transport", lastPing.Format(time.RFC3339))
		m.target.Terminate()
		if m.OnEvict != nil {
			m.OnEvict()
		}
		return false
	}
	m.alive = false
	m.lastPing = time.Now()
	m.mu.Unlock()

	if err := m.target.Ping(); err != nil {
		// A failed ping leaves the transport awaiting a pong, so the next
		// tick evicts it.
		logger.Printf("ping failed: %s", err)
	}
	return true
}

// Pong marks the transport alive.
func (m *Monitor) Pong() {
	m.mu.Lock()
	m.alive = true
	m.lastPong = time.Now()
	m.mu.Unlock()
}

// Alive reports whether a pong was seen since the last probe.
func (m *Monitor) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

// LastPong returns when the last pong was received, or the zero time.
func (m *Monitor) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// Stop cancels the monitor. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
}

func (m *Monitor) stopLocked() {
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stopCh)
}
