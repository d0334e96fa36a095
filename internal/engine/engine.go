package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/strainline/internal/catalog"
	"github.com/roach88/strainline/internal/config"
	"github.com/roach88/strainline/internal/match"
	"github.com/roach88/strainline/internal/notify"
	"github.com/roach88/strainline/internal/session"
	"github.com/roach88/strainline/internal/store"
	"github.com/roach88/strainline/internal/vendor"
	"github.com/roach88/strainline/internal/workpool"
)

// Engine is the strainline service facade.
type Engine struct {
	cfg      config.Config
	logger   *slog.Logger
	now      func() time.Time
	aliases  vendor.AliasTable
	holder   *catalog.Holder
	matcher  *match.Matcher
	store    *store.Store
	pool     *workpool.Pool
	notifier *notify.Notifier
	sessions *session.Registry
	relay    *notify.RedisRelay

	sessionIDs func() string
	eventIDs   func() string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the wall clock used by the store, the catalog and the
// session registry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSessionIDs overrides the session id generator.
func WithSessionIDs(gen func() string) Option {
	return func(e *Engine) {
		e.sessionIDs = gen
	}
}

// WithEventIDs overrides the change event id generator.
func WithEventIDs(gen func() string) Option {
	return func(e *Engine) {
		e.eventIDs = gen
	}
}

// New wires every component from cfg. The store is opened immediately;
// background loops start with Start.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:    c,
		logger: slog.Default(),
		now:    time.Now,
		holder: catalog.NewHolder(),
	}
	for _, opt := range opts {
		opt(e)
	}

	aliases, err := loadAliases(c.AliasFile)
	if err != nil {
		return nil, err
	}
	e.aliases = aliases

	e.pool = workpool.New(c.Pool.Workers, c.Pool.QueueSize,
		workpool.WithLogger(e.logger),
		workpool.WithName("engine"))

	e.notifier = notify.New(e.pool,
		notify.WithHandlerTimeout(c.Notify.HandlerTimeout),
		notify.WithQueueSize(c.Notify.QueueSize),
		notify.WithLogger(e.logger))

	e.store, err = store.Open(c.DBPath,
		store.WithChangeSink(e.notifier),
		store.WithWriteTimeout(c.Store.WriteTimeout),
		store.WithClock(e.now),
		store.WithEventIDs(e.eventIDs),
		store.WithLogger(e.logger))
	if err != nil {
		e.notifier.Close()
		e.pool.Close()
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	sessionOpts := []session.Option{
		session.WithMaxSessions(c.Sessions.MaxSessions),
		session.WithQueueSize(c.Sessions.QueueSize),
		session.WithIdleTTL(c.Sessions.IdleTTL),
		session.WithSweepInterval(c.Sessions.SweepInterval),
		session.WithClock(e.now),
		session.WithLogger(e.logger),
	}
	if e.sessionIDs != nil {
		sessionOpts = append(sessionOpts, session.WithIDGenerator(e.sessionIDs))
	}
	e.sessions = session.NewRegistry(e.notifier, sessionOpts...)

	e.matcher = match.NewMatcher(vendor.NewResolver(aliases), match.Config{
		MinScore:          c.Match.MinScore,
		Parallelism:       c.Match.Parallelism,
		MaxTermCandidates: c.Match.MaxTermCandidates,
		Weights:           c.Match.Weights,
	}, e.logger)

	if c.Redis.Addr != "" {
		origin := uuid.Must(uuid.NewV7()).String()
		e.relay, err = notify.NewRedisRelay(c.Redis.Addr, c.Redis.Channel, origin, e.logger)
		if err != nil {
			e.store.Close()
			e.notifier.Close()
			e.pool.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.notifier.Subscribe(notify.RelaySubscriberID, e.relay.Handler())
	}

	e.logger.Info("engine ready",
		"db", c.DBPath,
		"aliases", len(aliases),
		"relay", c.Redis.Addr != "")
	return e, nil
}

func loadAliases(path string) (vendor.AliasTable, error) {
	if path == "" {
		aliases, err := vendor.DefaultAliases()
		if err != nil {
			return nil, fmt.Errorf("engine: default aliases: %w", err)
		}
		return aliases, nil
	}
	aliases, err := vendor.LoadAliases(path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return aliases, nil
}

// Start launches the session registry loop and, when configured, the Redis
// relay. It returns once both are running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if e.relay != nil {
		if err := e.relay.Forward(runCtx, e.notifier.Notify); err != nil {
			cancel()
			return fmt.Errorf("engine: %w", err)
		}
	}

	e.stopped = make(chan struct{})
	go func() {
		defer close(e.stopped)
		e.sessions.Run(runCtx)
	}()
	e.cancel = cancel
	e.started = true
	e.logger.Info("engine started")
	return nil
}

// Close stops the background loops, drains the worker pool and closes the
// store. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		<-e.stopped
		e.cancel = nil
	}
	e.mu.Unlock()

	e.notifier.Close()
	e.pool.Close()
	if e.relay != nil {
		if err := e.relay.Close(); err != nil {
			e.logger.Warn("close relay", "error", err)
		}
		e.relay = nil
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("engine: close store: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

// Store exposes the lineage store to maintenance commands.
func (e *Engine) Store() *store.Store { return e.store }

// Aliases returns the vendor alias table in use.
func (e *Engine) Aliases() vendor.AliasTable { return e.aliases }

// Config returns the effective configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// NotifierStats reports delivery counters.
func (e *Engine) NotifierStats() notify.Stats { return e.notifier.Stats() }
