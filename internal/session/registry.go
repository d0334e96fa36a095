// Package session tracks active viewer sessions and their change-event
// subscriptions.
//
// All registry state is owned by the goroutine running Run. Public methods
// send a message on a bounded queue and wait for the reply, so there are no
// locks around the session map. Registration never waits for queue space:
// a full queue, like a full registry, is reported as CAPACITY_EXCEEDED.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/strainline/internal/model"
	"github.com/roach88/strainline/internal/notify"
)

// Defaults.
const (
	DefaultIdleTTL       = 2 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxSessions   = 1024
	DefaultQueueSize     = 256
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("session registry stopped")

// Subscriber is the part of the notifier the registry drives.
type Subscriber interface {
	Subscribe(id string, h notify.Handler)
	Unsubscribe(id string) bool
}

// Session is a snapshot of one viewer context.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
	Subscribed bool      `json:"subscribed"`
}

type opKind int

const (
	opRegister opKind = iota + 1
	opTouch
	opSubscribe
	opLookup
	opClose
	opExpire
	opList
)

type op struct {
	kind    opKind
	id      string
	handler notify.Handler
	ttl     time.Duration
	reply   chan result
}

type result struct {
	session  Session
	sessions []Session
	removed  []string
	err      error
}

// Registry is a bounded collection of sessions keyed by id.
type Registry struct {
	subs          Subscriber
	ops           chan op
	done          chan struct{}
	maxSessions   int
	idleTTL       time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	newID         func() string
	logger        *slog.Logger

	// owned by Run
	sessions map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSessions bounds the number of live sessions.
func WithMaxSessions(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithQueueSize sets the capacity of the operation queue.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.ops = make(chan op, n)
		}
	}
}

// WithIdleTTL sets how long a session may stay untouched before the sweep
// removes it.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithSweepInterval sets how often Run sweeps idle sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry. Call Run in its own goroutine before
// using it.
func NewRegistry(subs Subscriber, opts ...Option) *Registry {
	r := &Registry{
		subs:          subs,
		ops:           make(chan op, DefaultQueueSize),
		done:          make(chan struct{}),
		maxSessions:   DefaultMaxSessions,
		idleTTL:       DefaultIdleTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		newID:         func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:        slog.Default(),
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session-registry")
	return r
}

// Run owns the registry state until ctx is done. On exit every remaining
// subscription is detached.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			for id := range r.sessions {
				r.remove(id)
			}
			return
		case o := <-r.ops:
			o.reply <- r.apply(o)
		case <-ticker.C:
			if removed := r.expire(r.idleTTL); len(removed) > 0 {
				r.logger.Info("expired idle sessions", "count", len(removed))
			}
		}
	}
}

func (r *Registry) apply(o op) result {
	switch o.kind {
	case opRegister:
		if len(r.sessions) >= r.maxSessions {
			return result{err: capacityError(fmt.Sprintf("registry holds %d sessions", len(r.sessions)))}
		}
		now := r.now()
		s := &Session{ID: r.newID(), CreatedAt: now, LastSeen: now}
		r.sessions[s.ID] = s
		r.logger.Debug("session registered", "session", s.ID)
		return result{session: *s}

	case opTouch:
		s, ok := r.sessions[o.id]
		if !ok {
			return result{err: notFound(o.id)}
		}
		s.LastSeen = r.now()
		return result{session: *s}

	case opSubscribe:
		s, ok := r.sessions[o.id]
		if !ok {
			return result{err: notFound(o.id)}
		}
		r.subs.Subscribe(s.ID, o.handler)
		s.Subscribed = true
		s.LastSeen = r.now()
		return result{session: *s}

	case opLookup:
		s, ok := r.sessions[o.id]
		if !ok {
			return result{err: notFound(o.id)}
		}
		return result{session: *s}

	case opClose:
		if _, ok := r.sessions[o.id]; !ok {
			return result{err: notFound(o.id)}
		}
		r.remove(o.id)
		return result{removed: []string{o.id}}

	case opExpire:
		return result{removed: r.expire(o.ttl)}

	case opList:
		out := make([]Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			out = append(out, *s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return result{sessions: out}
	}
	return result{err: fmt.Errorf("unknown session op %d", o.kind)}
}

// expire removes sessions whose last touch is older than ttl.
func (r *Registry) expire(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)
	var removed []string
	for id, s := range r.sessions {
		if s.LastSeen.Before(cutoff) {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		r.remove(id)
	}
	return removed
}

func (r *Registry) remove(id string) {
	s := r.sessions[id]
	delete(r.sessions, id)
	if s != nil && s.Subscribed {
		r.subs.Unsubscribe(id)
	}
	r.logger.Debug("session removed", "session", id)
}

// Register creates a session. It never waits for queue space.
func (r *Registry) Register(ctx context.Context) (Session, error) {
	o := op{kind: opRegister, reply: make(chan result, 1)}
	select {
	case r.ops <- o:
	case <-r.done:
		return Session{}, ErrStopped
	default:
		return Session{}, capacityError("registration queue full")
	}
	res, err := r.await(ctx, o)
	if err != nil {
		// Run may still create the session after ctx ended; nobody would
		// ever learn its id, so close it as soon as the reply arrives.
		go r.discardOrphan(o.reply)
		return Session{}, err
	}
	return res.session, res.err
}

func (r *Registry) discardOrphan(reply <-chan result) {
	select {
	case res := <-reply:
		if res.err != nil || res.session.ID == "" {
			return
		}
		if err := r.Close(context.Background(), res.session.ID); err != nil && !errors.Is(err, ErrStopped) {
			r.logger.Warn("close orphaned session", "session", res.session.ID, "error", err)
			return
		}
		r.logger.Debug("closed orphaned session", "session", res.session.ID)
	case <-r.done:
	}
}

// Touch marks the session as active now.
func (r *Registry) Touch(ctx context.Context, id string) (Session, error) {
	res, err := r.call(ctx, op{kind: opTouch, id: id})
	if err != nil {
		return Session{}, err
	}
	return res.session, res.err
}

// Subscribe attaches h to the session's notification subscription.
func (r *Registry) Subscribe(ctx context.Context, id string, h notify.Handler) error {
	if h == nil {
		return fmt.Errorf("subscribe %s: nil handler", id)
	}
	res, err := r.call(ctx, op{kind: opSubscribe, id: id, handler: h})
	if err != nil {
		return err
	}
	return res.err
}

// Lookup returns the session with the given id.
func (r *Registry) Lookup(ctx context.Context, id string) (Session, error) {
	res, err := r.call(ctx, op{kind: opLookup, id: id})
	if err != nil {
		return Session{}, err
	}
	return res.session, res.err
}

// Close ends a session and detaches its subscription.
func (r *Registry) Close(ctx context.Context, id string) error {
	res, err := r.call(ctx, op{kind: opClose, id: id})
	if err != nil {
		return err
	}
	return res.err
}

// ExpireIdle removes sessions idle for longer than ttl and returns their ids.
func (r *Registry) ExpireIdle(ctx context.Context, ttl time.Duration) ([]string, error) {
	res, err := r.call(ctx, op{kind: opExpire, ttl: ttl})
	if err != nil {
		return nil, err
	}
	return res.removed, res.err
}

// List returns all live sessions ordered by id.
func (r *Registry) List(ctx context.Context) ([]Session, error) {
	res, err := r.call(ctx, op{kind: opList})
	if err != nil {
		return nil, err
	}
	return res.sessions, res.err
}

func (r *Registry) call(ctx context.Context, o op) (result, error) {
	o.reply = make(chan result, 1)
	select {
	case r.ops <- o:
	case <-r.done:
		return result{}, ErrStopped
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	return r.await(ctx, o)
}

func (r *Registry) await(ctx context.Context, o op) (result, error) {
	select {
	case res := <-o.reply:
		return res, nil
	case <-r.done:
		// Run may have answered just before exiting.
		select {
		case res := <-o.reply:
			return res, nil
		default:
			return result{}, ErrStopped
		}
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func capacityError(msg string) error {
	return model.NewError(model.CodeCapacityExceeded, "register session", msg, nil)
}

func notFound(id string) error {
	return model.NewError(model.CodeNotFound, "session", fmt.Sprintf("no session %q", id), nil)
}
