package syncer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sisbm/fleetsync/internal/connectivity"
	"github.com/sisbm/fleetsync/internal/gateway"
	"github.com/sisbm/fleetsync/internal/logging"
	"github.com/sisbm/fleetsync/internal/models"
	"github.com/sisbm/fleetsync/internal/outbox"
	"github.com/sisbm/fleetsync/internal/store"
)

// Engine composes one coordinator per synchronized collection and wires the
// connectivity monitor's online edge to outbox replay. Replay fans out
// across collections concurrently — ordering is guaranteed within a
// collection, never across them.
type Engine struct {
	store        *store.Store
	gw           gateway.Gateway
	monitor      *connectivity.Monitor
	coords       map[models.Collection]*Coordinator
	log          logging.Logger
	flushOnStart bool

	runCtx context.Context
}

type EngineOption func(*engineConfig)

type engineConfig struct {
	log          logging.Logger
	coalesce     bool
	flushOnStart bool
}

// WithLogger sets the logger; default is silent.
func WithLogger(l logging.Logger) EngineOption {
	return func(c *engineConfig) { c.log = l }
}

// WithCoalescing controls per-record collapsing of pending edits in every
// collection's outbox. On by default.
func WithCoalescing(enabled bool) EngineOption {
	return func(c *engineConfig) { c.coalesce = enabled }
}

// WithStartupFlush replays any backlog left over from a previous run when
// Start is called. On by default.
func WithStartupFlush(enabled bool) EngineOption {
	return func(c *engineConfig) { c.flushOnStart = enabled }
}

func NewEngine(s *store.Store, gw gateway.Gateway, monitor *connectivity.Monitor, opts ...EngineOption) *Engine {
	cfg := &engineConfig{
		log:          logging.NewNopLogger(),
		coalesce:     true,
		flushOnStart: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{
		store:        s,
		gw:           gw,
		monitor:      monitor,
		coords:       make(map[models.Collection]*Coordinator, len(models.Collections)),
		log:          cfg.log,
		flushOnStart: cfg.flushOnStart,
		runCtx:       context.Background(),
	}

	for _, c := range models.Collections {
		ob := outbox.NewManager(s, gw, c,
			outbox.WithLogger(cfg.log),
			outbox.WithCoalescing(cfg.coalesce))
		e.coords[c] = NewCoordinator(c, s, gw, monitor, ob, cfg.log)
	}

	monitor.OnOnline(func() {
		go func() {
			if err := e.ReplayAll(e.runCtx); err != nil {
				e.log.Error(e.runCtx, "replay after reconnect failed", "error", err)
			}
		}()
	})

	return e
}

// Collection returns the coordinator for one collection, or nil for an
// unknown name.
func (e *Engine) Collection(c models.Collection) *Coordinator {
	return e.coords[c]
}

// Start launches the connectivity probe loop and, when enabled, flushes the
// backlog accumulated across restarts. It returns once the background work
// is launched; everything stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx
	go e.monitor.Start(ctx)

	if e.flushOnStart {
		go func() {
			if err := e.ReplayAll(ctx); err != nil {
				e.log.Error(ctx, "startup backlog flush failed", "error", err)
			}
		}()
	}
}

// ReplayAll drains every collection's outbox, concurrently across
// collections.
func (e *Engine) ReplayAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, coord := range e.coords {
		coord := coord
		g.Go(func() error { return coord.Replay(ctx) })
	}
	return g.Wait()
}

// SyncAll refreshes every collection from the server, concurrently.
func (e *Engine) SyncAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, coord := range e.coords {
		coord := coord
		g.Go(func() error { return coord.Sync(ctx) })
	}
	return g.Wait()
}
