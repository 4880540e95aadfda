// ABOUTME: Gateway orchestrator that assembles the actuator service
// ABOUTME: Owns the ledger store, reservation engine, background loops and HTTP server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"tailscale.com/tsnet"

	"github.com/2389/coven-actuator/internal/api"
	"github.com/2389/coven-actuator/internal/auth"
	"github.com/2389/coven-actuator/internal/clock"
	"github.com/2389/coven-actuator/internal/config"
	"github.com/2389/coven-actuator/internal/dedupe"
	"github.com/2389/coven-actuator/internal/engine"
	"github.com/2389/coven-actuator/internal/events"
	"github.com/2389/coven-actuator/internal/store"
)

// Gateway orchestrates the coven-actuator server components.
type Gateway struct {
	config      *config.Config
	clock       clock.Clock
	store       store.Store
	sink        *store.EventSink
	broadcaster *events.Broadcaster
	engine      *engine.Engine
	dedupe      *dedupe.Cache
	api         *api.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	cron        *cron.Cron
	logger      *slog.Logger

	// addr is the bound HTTP address, set once the listener is up
	mu    sync.Mutex
	addr  string
	ready chan struct{}
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithClock overrides the wall clock used by the engine and background loops.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// initStore opens the ledger database. COVEN_ACTUATOR_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_ACTUATOR_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newVerifier returns a JWT verifier, or nil for anonymous header mode.
func newVerifier(cfg *config.Config, logger *slog.Logger) (auth.TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured, trusting " + auth.RequesterHeader)
		return nil, nil
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("HTTP auth enabled (JWT)")
	return v, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	g := &Gateway{
		config: cfg,
		clock:  clock.Real(),
		logger: logger.With("component", "gateway"),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	g.store = sqlStore
	g.sink = store.NewEventSink(sqlStore, logger, store.DefaultSinkBuffer)
	g.broadcaster = events.NewBroadcaster(logger.With("component", "broadcaster"))

	eng, err := engine.New(engine.Config{
		HeartbeatInterval:      cfg.Scheduler.HeartbeatInterval,
		PreemptGraceTime:       cfg.Scheduler.PreemptGraceTime,
		HeartbeatMissThreshold: cfg.Scheduler.HeartbeatMissThreshold,
	},
		engine.WithClock(g.clock),
		engine.WithLogger(logger),
		engine.WithPublisher(events.Multi(g.broadcaster, g.sink)),
	)
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	g.engine = eng

	verifier, err := newVerifier(cfg, g.logger)
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	g.dedupe = dedupe.New(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries, dedupe.WithClock(g.clock))

	apiOpts := []api.Option{
		api.WithLedger(sqlStore),
		api.WithIdempotency(g.dedupe),
	}
	if verifier != nil {
		apiOpts = append(apiOpts, api.WithVerifier(verifier))
	}
	g.api = api.New(eng, g.broadcaster, logger, apiOpts...)

	// Event streams are long-lived; end them when shutdown begins.
	streamCtx, endStreams := context.WithCancel(context.Background())
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.api,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	g.httpServer.RegisterOnShutdown(endStreams)

	g.cron = cron.New(cron.WithLogger(cronLogger{logger: logger.With("component", "cron")}))
	if _, err := g.cron.AddFunc(fmt.Sprintf("@every %s", cfg.Scheduler.SchedulePublishInterval), g.publishSchedules); err != nil {
		_ = sqlStore.Close()
		g.dedupe.Close()
		return nil, fmt.Errorf("scheduling snapshot publisher: %w", err)
	}

	return g, nil
}

// Engine returns the reservation engine.
func (g *Gateway) Engine() *engine.Engine {
	return g.engine
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.api
}

// Addr blocks until the HTTP listener is bound or ctx is done and returns its address.
func (g *Gateway) Addr(ctx context.Context) (string, error) {
	select {
	case <-g.ready:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// setupListener creates the HTTP listener (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the servers and background loops and blocks until the context
// is canceled. Returns nil on graceful shutdown, or an error if the HTTP server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		_ = g.closeResources()
		return err
	}

	g.mu.Lock()
	g.addr = ln.Addr().String()
	g.mu.Unlock()
	close(g.ready)

	loopCtx, stopLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		g.sink.Run(loopCtx)
	}()
	go func() {
		defer loops.Done()
		g.tickLoop(loopCtx)
	}()
	g.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(shutdownCtx))

	select {
	case <-g.cron.Stop().Done():
	case <-shutdownCtx.Done():
		g.logger.Warn("timeout waiting for snapshot publisher")
	}
	stopLoops()
	loops.Wait()

	if dropped := g.sink.Dropped(); dropped > 0 {
		g.logger.Warn("ledger dropped events", "count", dropped)
	}
	if err := g.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if serverErr != nil {
		return serverErr
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeResources releases everything New acquired.
func (g *Gateway) closeResources() error {
	var errs []error
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.dedupe.Close()
	g.broadcaster.Close()
	return errors.Join(errs...)
}
