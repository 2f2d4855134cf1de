// Package connectivity tracks network presence by probing the server's
// health endpoint on an interval and raises edge-triggered events on
// offline→online and online→offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sisbm/fleetsync/internal/logging"
)

// Prober reports server reachability. The gateway's Ping satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

const (
	defaultInterval     = 3 * time.Second
	defaultProbeTimeout = 3 * time.Second
)

// Monitor holds the current presence level and the registered transition
// handlers. The zero state is online: with no probe evidence the client
// assumes connectivity (fail-open) and lets the actual gateway call fail
// into the offline path if the assumption was wrong.
type Monitor struct {
	prober   Prober
	log      logging.Logger
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	online    bool
	onOnline  []func()
	onOffline []func()
}

type Option func(*Monitor)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the logger; default is silent.
func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// NewMonitor creates a monitor around prober. A nil prober is allowed: the
// monitor then always reports online and never transitions.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		log:      logging.NewNopLogger(),
		interval: defaultInterval,
		timeout:  defaultProbeTimeout,
		online:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline is a point-in-time query of the last known presence level.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers a handler fired once per offline→online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// OnOffline registers a handler fired once per online→offline transition.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = append(m.onOffline, fn)
}

// MarkOnline records observed connectivity, e.g. a gateway call that
// succeeded between probes. Edge-triggered: handlers run only when the
// level actually changes.
func (m *Monitor) MarkOnline() { m.transition(true) }

// MarkOffline records an observed loss of connectivity.
func (m *Monitor) MarkOffline() { m.transition(false) }

func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var handlers []func()
	if online {
		handlers = append(handlers, m.onOnline...)
	} else {
		handlers = append(handlers, m.onOffline...)
	}
	m.mu.Unlock()

	if online {
		m.log.Info(context.Background(), "switched to online mode")
	} else {
		m.log.Info(context.Background(), "switched to offline mode")
	}

	// handlers run outside the lock so they may query the monitor
	for _, fn := range handlers {
		fn()
	}
}

// Start probes on every tick until ctx is cancelled. Run it in its own
// goroutine.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Ping(probeCtx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "probe failed", "error", err)
		m.transition(false)
		return
	}
	m.transition(true)
}
