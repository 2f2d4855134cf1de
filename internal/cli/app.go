package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sisbm/fleetsync/internal/config"
	"github.com/sisbm/fleetsync/internal/connectivity"
	"github.com/sisbm/fleetsync/internal/gateway"
	"github.com/sisbm/fleetsync/internal/logging"
	"github.com/sisbm/fleetsync/internal/models"
	"github.com/sisbm/fleetsync/internal/store"
	"github.com/sisbm/fleetsync/internal/syncer"
)

// App owns the wired client: local cache, gateway, connectivity monitor and
// sync engine, plus the interactive session state (token, current
// collection).
type App struct {
	config  *config.Config
	store   *store.Store
	tokens  *gateway.SessionTokenProvider
	monitor *connectivity.Monitor
	engine  *syncer.Engine
	current models.Collection
	reader  *bufio.Reader
	log     logging.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	s, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	tokens := gateway.NewSessionTokenProvider()
	if cfg.TokenFile != "" {
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		tokens.Set(strings.TrimSpace(string(data)))
	}

	gw := gateway.NewHTTPGateway(cfg.ServerBaseURL, tokens,
		gateway.WithLogger(log),
		gateway.WithListRetries(uint64(cfg.ListRetries)))

	monitor := connectivity.NewMonitor(gw,
		connectivity.WithInterval(cfg.OnlineCheckInterval),
		connectivity.WithProbeTimeout(cfg.ProbeTimeout),
		connectivity.WithLogger(log))

	engine := syncer.NewEngine(s, gw, monitor,
		syncer.WithLogger(log),
		syncer.WithCoalescing(cfg.CoalescePending))

	return &App{
		config:  cfg,
		store:   s,
		tokens:  tokens,
		monitor: monitor,
		engine:  engine,
		current: models.Vehicles,
		reader:  bufio.NewReader(os.Stdin),
		log:     log,
	}, nil
}

// Run starts the background sync machinery and blocks in the REPL until the
// user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.store.Close()

	fmt.Println("Fleet registry CLI (type 'help' for commands)")
	if !a.isLoggedIn() {
		_ = a.Login(ctx)
	}

	// Only after the login prompt: the startup flush would otherwise burn
	// its pass on a session that cannot authenticate yet.
	a.engine.Start(ctx)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

func (a *App) isLoggedIn() bool {
	return a.tokens.HasToken()
}

// getStatus builds the prompt suffix: current collection, connectivity and
// the number of pending local mutations.
func (a *App) getStatus() string {
	mode := "offline"
	if a.monitor.IsOnline() {
		mode = "online"
	}

	pending := 0
	for _, c := range models.Collections {
		n, err := a.engine.Collection(c).PendingMutations(context.Background())
		if err != nil {
			continue
		}
		pending += n
	}

	s := fmt.Sprintf("(%s %s", a.current, mode)
	if pending > 0 {
		s += fmt.Sprintf(" %d pending", pending)
	}
	return s + ")"
}

// Login prompts for a bearer token without echo and installs it as the
// session token.
func (a *App) Login(ctx context.Context) error {
	tok, err := GetToken(os.Stdout)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	if tok == "" {
		printlnFn("No token entered; staying logged out")
		return nil
	}
	a.tokens.Set(tok)
	printlnFn("Token installed")
	return nil
}

// Logout drops the session token. Local data and pending mutations are kept.
func (a *App) Logout(ctx context.Context) error {
	a.tokens.Set("")
	printlnFn("Logged out")
	return nil
}

// Use switches the current collection.
func (a *App) Use(ctx context.Context, name string) error {
	c := models.Collection(name)
	if !c.Valid() {
		printlnFn("Unknown collection:", name)
		return fmt.Errorf("unknown collection %q", name)
	}
	a.current = c
	return nil
}
