package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/quarry/dialect"
)

// Pool is a bounded pool of physical connections with FIFO waiters, idle
// eviction and validation.
type Pool struct {
	connector Connector
	closer    io.Closer
	log       *slog.Logger
	cfg       atomic.Pointer[Config]

	mu      sync.Mutex
	closed  bool
	all     map[uuid.UUID]*PooledConn
	idle    []*PooledConn // head is the oldest returned
	waiters []*waiter
	gate    gate

	created     int64
	destroyed   int64
	evicted     int64
	invalidated int64
	borrowed    int64
	returned    int64
	waits       int64
	timeouts    int64
	activeTime  time.Duration

	evMu     sync.Mutex
	evStop   chan struct{}
	evWG     sync.WaitGroup
	evPeriod time.Duration
}

// waiter receives either a connection already in the allocated state, or nil
// to retry the borrow.
type waiter struct {
	ch chan *PooledConn
}

// gate bounds live plus in-flight connections. It has its own lock so that
// creation bookkeeping never contends with unrelated pool traffic; when both
// are needed Pool.mu is taken first.
type gate struct {
	mu     sync.Mutex
	count  int
	making int
	max    int
	done   chan struct{}
}

// tryAcquire reserves capacity for a new connection. When capacity is
// exhausted but a creation is in flight, it returns a channel closed when
// that creation finishes.
func (g *gate) tryAcquire() (bool, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count < g.max {
		g.count++
		g.making++
		return true, nil
	}
	if g.making > 0 {
		return false, g.done
	}
	return false, nil
}

// finish ends an in-flight creation. A failed creation gives its capacity
// back.
func (g *gate) finish(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.making--
	if !success {
		g.count--
	}
	close(g.done)
	g.done = make(chan struct{})
}

func (g *gate) release() {
	g.mu.Lock()
	g.count--
	g.mu.Unlock()
}

func (g *gate) setMax(n int) {
	g.mu.Lock()
	g.max = n
	g.mu.Unlock()
}

// over reports whether live connections exceed the capacity, after a
// shrinking Reconfigure.
func (g *gate) over() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count > g.max
}

func (g *gate) snapshot() (making, max int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.making, g.max
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.log = l
	}
}

// WithCloser registers a resource closed after the pool, typically the
// *sql.DB behind the connector.
func WithCloser(c io.Closer) Option {
	return func(p *Pool) {
		p.closer = c
	}
}

// New returns a pool drawing connections from c. The evictor is started when
// cfg.EvictionInterval is positive.
func New(c Connector, cfg Config, opts ...Option) (*Pool, error) {
	if c == nil {
		return nil, errors.New("pool: nil connector")
	}
	cfg.Dialect = dialect.Normalize(cfg.Dialect)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		connector: c,
		log:       slog.Default(),
		all:       make(map[uuid.UUID]*PooledConn),
	}
	p.gate.max, p.gate.done = cfg.MaxSize, make(chan struct{})
	for _, opt := range opts {
		opt(p)
	}
	p.cfg.Store(&cfg)
	if cfg.EvictionInterval > 0 {
		p.StartEvictor(cfg.EvictionInterval)
	}
	return p, nil
}

// Open opens a database handle and returns a pool over its connections. The
// handle keeps no idle connections of its own; the pool is the only cache.
func Open(driverName, dsn string, cfg Config, opts ...Option) (*Pool, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("pool: open %s: %w", driverName, err)
	}
	if cfg.Dialect == "" {
		cfg.Dialect = driverName
	}
	p, err := OpenDB(db, cfg, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// OpenDB returns a pool over the connections of db. Closing the pool closes
// db. An empty cfg.Dialect is derived from the driver of db.
func OpenDB(db *sql.DB, cfg Config, opts ...Option) (*Pool, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = driverDialect(db.Driver())
	}
	db.SetMaxIdleConns(0)
	return New(FromDB(db), cfg, append([]Option{WithCloser(db)}, opts...)...)
}

// driverDialect guesses the dialect from the package of a database/sql
// driver.
func driverDialect(d driver.Driver) string {
	t := reflect.TypeOf(d)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch path := t.PkgPath(); {
	case strings.Contains(path, "sqlite"):
		return dialect.SQLite
	case strings.Contains(path, "pgx"), strings.HasSuffix(path, "lib/pq"):
		return dialect.Postgres
	case strings.Contains(path, "mysql"):
		return dialect.MySQL
	}
	return ""
}

// Config returns the current configuration.
func (p *Pool) Config() Config { return *p.config() }

// Dialect returns the dialect of the pooled connections.
func (p *Pool) Dialect() string { return p.config().Dialect }

func (p *Pool) config() *Config { return p.cfg.Load() }

// Borrow hands out a connection, reusing an idle one or opening a new one
// while under MaxSize. Otherwise it waits up to MaxWait, retrying once
// before failing with a NoResourceError.
func (p *Pool) Borrow(ctx context.Context) (*PooledConn, error) {
	for attempt := 0; ; attempt++ {
		pc, err := p.borrow(ctx)
		if !errors.Is(err, errTimeout) {
			return pc, err
		}
		if attempt == 1 {
			p.mu.Lock()
			p.timeouts++
			_, maxSize := p.gate.snapshot()
			e := &NoResourceError{Wait: p.config().MaxWait, Active: len(p.all) - len(p.idle), Max: maxSize}
			p.mu.Unlock()
			return nil, e
		}
	}
}

func (p *Pool) borrow(ctx context.Context) (*PooledConn, error) {
	cfg := p.config()
	wctx := ctx
	if cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, cfg.MaxWait)
		defer cancel()
	}
	for retries := 0; ; {
		pc, fresh, err := p.acquire(wctx)
		if err != nil {
			var ce *CreateError
			switch {
			case errors.As(err, &ce), errors.Is(err, ErrClosed):
				return nil, err
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return nil, errTimeout
			}
			return nil, err
		}
		err = p.activate(ctx, pc)
		if err == nil {
			return pc, nil
		}
		p.log.DebugContext(ctx, "pool: activation failed", "conn", pc.id, "error", err)
		p.destroy(pc)
		if fresh {
			return nil, &CreateError{Err: err}
		}
		if retries++; retries > cfg.ActivationRetries {
			return nil, fmt.Errorf("pool: activate connection: %w", err)
		}
	}
}

// acquire returns an allocated connection, either from the idle queue, newly
// created, or handed over by Return.
func (p *Pool) acquire(ctx context.Context) (*PooledConn, bool, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, false, ErrClosed
		}
		if len(p.idle) > 0 {
			pc := p.idle[0]
			p.idle[0] = nil
			p.idle = p.idle[1:]
			p.allocate(pc)
			p.mu.Unlock()
			return pc, false, nil
		}
		ok, done := p.gate.tryAcquire()
		if ok {
			p.mu.Unlock()
			pc, err := p.create(ctx, false)
			return pc, true, err
		}
		var w *waiter
		if done == nil {
			w = &waiter{ch: make(chan *PooledConn, 1)}
			p.waiters = append(p.waiters, w)
		}
		p.waits++
		p.mu.Unlock()

		if w == nil {
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
		select {
		case pc := <-w.ch:
			if pc != nil {
				return pc, false, nil
			}
		case <-ctx.Done():
			p.mu.Lock()
			removed := p.removeWaiter(w)
			p.mu.Unlock()
			if !removed {
				// Lost the race with a hand over.
				if pc := <-w.ch; pc != nil {
					p.requeue(pc)
				}
			}
			return nil, false, ctx.Err()
		}
	}
}

// create opens a connection on capacity reserved with tryAcquire. The
// connection is either allocated to the caller, or offered to waiters and the
// idle queue when idle is set.
func (p *Pool) create(ctx context.Context, idle bool) (*PooledConn, error) {
	conn, err := p.connector.Connect(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.gate.finish(false)
		p.wakeOne()
		return nil, &CreateError{Err: err}
	}
	p.gate.finish(true)
	now := time.Now()
	pc := &PooledConn{id: uuid.New(), conn: conn, pool: p, created: now, lastUse: now}
	if p.closed {
		p.gate.release()
		_ = conn.Close()
		return nil, ErrClosed
	}
	p.all[pc.id] = pc
	p.created++
	if !idle {
		p.allocate(pc)
		return pc, nil
	}
	if !p.handoff(pc) {
		pc.state = StateIdle
		pc.lastReturn = now
		p.idle = append(p.idle, pc)
	}
	return pc, nil
}

// allocate must be called with p.mu held.
func (p *Pool) allocate(pc *PooledConn) {
	pc.state = StateAllocated
	pc.lastBorrow = time.Now()
	pc.useCount++
	p.borrowed++
}

// handoff gives pc to the oldest waiter. Must be called with p.mu held.
func (p *Pool) handoff(pc *PooledConn) bool {
	if len(p.waiters) == 0 {
		return false
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	p.allocate(pc)
	w.ch <- pc
	return true
}

// wakeOne asks the oldest waiter to retry. Must be called with p.mu held.
func (p *Pool) wakeOne() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	w.ch <- nil
}

// wakeAll must be called with p.mu held.
func (p *Pool) wakeAll() {
	for _, w := range p.waiters {
		w.ch <- nil
	}
	p.waiters = nil
}

func (p *Pool) removeWaiter(w *waiter) bool {
	i := slices.Index(p.waiters, w)
	if i < 0 {
		return false
	}
	p.waiters = slices.Delete(p.waiters, i, i+1)
	return true
}

func (p *Pool) removeIdle(pc *PooledConn) {
	if i := slices.Index(p.idle, pc); i >= 0 {
		p.idle = slices.Delete(p.idle, i, i+1)
	}
}

// requeue puts an allocated connection that its borrower never saw back.
func (p *Pool) requeue(pc *PooledConn) {
	p.mu.Lock()
	p.borrowed--
	if p.closed {
		p.mu.Unlock()
		p.destroy(pc)
		return
	}
	if !p.handoff(pc) {
		pc.state = StateIdle
		p.idle = slices.Insert(p.idle, 0, pc)
	}
	p.mu.Unlock()
}

// activate prepares a connection for a borrower.
func (p *Pool) activate(ctx context.Context, pc *PooledConn) error {
	cfg := p.config()
	if err := pc.rollback(); err != nil {
		return fmt.Errorf("pool: rollback dangling transaction: %w", err)
	}
	if cfg.MaxLifetime > 0 && time.Since(pc.created) > cfg.MaxLifetime {
		return ErrExpired
	}
	if err := p.restoreSession(ctx, pc, cfg); err != nil {
		return err
	}
	if cfg.TestOnBorrow {
		if err := p.validate(ctx, pc); err != nil {
			return err
		}
	}
	pc.touch()
	return nil
}

// restoreSession resets the default catalog (MySQL) or schema (Postgres).
// A borrower may have changed either through its own statements, so the
// default is applied on every activation.
func (p *Pool) restoreSession(ctx context.Context, pc *PooledConn, cfg *Config) error {
	var query string
	switch {
	case cfg.Dialect == dialect.MySQL && cfg.DefaultCatalog != "":
		query = "USE `" + strings.ReplaceAll(cfg.DefaultCatalog, "`", "``") + "`"
	case cfg.Dialect == dialect.Postgres && cfg.DefaultSchema != "":
		query = `SET search_path TO "` + strings.ReplaceAll(cfg.DefaultSchema, `"`, `""`) + `"`
	default:
		return nil
	}
	if _, err := pc.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("pool: restore session: %w", pc.check(err))
	}
	return nil
}

// validate runs the validation query, or a ping when none is configured.
func (p *Pool) validate(ctx context.Context, pc *PooledConn) error {
	if pc.Broken() {
		p.mu.Lock()
		p.invalidated++
		p.mu.Unlock()
		return ErrBroken
	}
	cfg := p.config()
	if cfg.ValidationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ValidationTimeout)
		defer cancel()
	}
	var err error
	if cfg.ValidationQuery != "" {
		_, err = pc.conn.ExecContext(ctx, cfg.ValidationQuery)
	} else {
		err = pc.conn.PingContext(ctx)
	}
	if err != nil {
		p.mu.Lock()
		p.invalidated++
		p.mu.Unlock()
		return fmt.Errorf("pool: validate connection: %w", pc.check(err))
	}
	return nil
}

// passivate prepares a returned connection for reuse.
func (p *Pool) passivate(pc *PooledConn) error {
	if p.config().RollbackOnReturn {
		return pc.rollback()
	}
	if pc.Tx() != nil {
		return errors.New("pool: connection returned with an open transaction")
	}
	return nil
}

// Return gives a borrowed connection back to the pool. It is handed to the
// oldest waiter, queued as idle, or destroyed when broken or surplus.
func (p *Pool) Return(pc *PooledConn) error {
	p.mu.Lock()
	if pc.pool != p || pc.state != StateAllocated {
		p.mu.Unlock()
		return ErrNotAllocated
	}
	pc.state = StateReturning
	p.mu.Unlock()

	perr := p.passivate(pc)
	if perr != nil {
		p.log.Warn("pool: passivate connection", "conn", pc.id, "error", perr)
	}
	p.mu.Lock()
	pc.lastReturn = time.Now()
	p.returned++
	p.activeTime += pc.lastReturn.Sub(pc.lastBorrow)
	if p.closed || perr != nil || pc.Broken() || p.gate.over() {
		p.mu.Unlock()
		p.destroy(pc)
		return nil
	}
	if p.handoff(pc) {
		p.mu.Unlock()
		return nil
	}
	if len(p.idle) >= p.config().maxIdle() {
		p.mu.Unlock()
		p.destroy(pc)
		return nil
	}
	pc.state = StateIdle
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	return nil
}

// Invalidate destroys a borrowed connection instead of returning it.
func (p *Pool) Invalidate(pc *PooledConn) error {
	p.mu.Lock()
	if pc.pool != p || pc.state != StateAllocated {
		p.mu.Unlock()
		return ErrNotAllocated
	}
	pc.state = StateReturning
	p.mu.Unlock()
	p.destroy(pc)
	return nil
}

// destroy closes the physical connection and frees its capacity. It is
// idempotent.
func (p *Pool) destroy(pc *PooledConn) {
	p.mu.Lock()
	if pc.state == StateInvalid {
		p.mu.Unlock()
		return
	}
	pc.state = StateInvalid
	delete(p.all, pc.id)
	p.removeIdle(pc)
	p.gate.release()
	p.destroyed++
	p.wakeOne()
	p.mu.Unlock()

	if err := pc.rollback(); err != nil {
		p.log.Warn("pool: rollback on destroy", "conn", pc.id, "error", err)
	}
	if err := pc.conn.Close(); err != nil {
		p.log.Warn("pool: close connection", "conn", pc.id, "error", err)
	}
}

// Clear destroys all idle connections. Borrowed connections are untouched.
func (p *Pool) Clear() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, pc := range idle {
		p.destroy(pc)
	}
}

// Close stops the evictor, fails pending and future borrows with ErrClosed
// and destroys idle connections. Borrowed connections are destroyed when
// returned.
func (p *Pool) Close() error {
	p.StopEvictor()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.wakeAll()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, pc := range idle {
		p.destroy(pc)
	}
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Waiters int `json:"waiters"`
	MaxSize int `json:"max_size"`

	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
	// Evicted counts connections destroyed by the evictor for idling.
	Evicted int64 `json:"evicted"`
	// Invalidated counts failed validations.
	Invalidated int64 `json:"invalidated"`
	Borrowed    int64 `json:"borrowed"`
	Returned    int64 `json:"returned"`
	Waits       int64 `json:"waits"`
	Timeouts    int64 `json:"timeouts"`
	// MeanActive is the mean time between borrow and return.
	MeanActive time.Duration `json:"mean_active"`
}

// Stats returns the pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	making, maxSize := p.gate.snapshot()
	s := Stats{
		Active:      len(p.all) - len(p.idle),
		Idle:        len(p.idle),
		Total:       len(p.all),
		Pending:     making,
		Waiters:     len(p.waiters),
		MaxSize:     maxSize,
		Created:     p.created,
		Destroyed:   p.destroyed,
		Evicted:     p.evicted,
		Invalidated: p.invalidated,
		Borrowed:    p.borrowed,
		Returned:    p.returned,
		Waits:       p.waits,
		Timeouts:    p.timeouts,
	}
	if p.returned > 0 {
		s.MeanActive = p.activeTime / time.Duration(p.returned)
	}
	return s
}

// Reconfigure swaps the configuration of a running pool. Shrinking MaxSize
// destroys surplus connections as they are returned.
func (p *Pool) Reconfigure(cfg Config) error {
	if cfg.Dialect == "" {
		cfg.Dialect = p.Dialect()
	}
	cfg.Dialect = dialect.Normalize(cfg.Dialect)
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg.Store(&cfg)

	p.mu.Lock()
	p.gate.setMax(cfg.MaxSize)
	p.wakeAll()
	var surplus []*PooledConn
	if n := len(p.idle) - cfg.maxIdle(); n > 0 {
		surplus = slices.Clone(p.idle[:n])
	}
	p.mu.Unlock()
	for _, pc := range surplus {
		p.destroy(pc)
	}

	p.evMu.Lock()
	running, period := p.evStop != nil, p.evPeriod
	p.evMu.Unlock()
	switch {
	case cfg.EvictionInterval <= 0 && running:
		p.StopEvictor()
	case cfg.EvictionInterval > 0 && (!running || period != cfg.EvictionInterval):
		p.StopEvictor()
		p.StartEvictor(cfg.EvictionInterval)
	}
	p.log.Info("pool: reconfigured", "max_size", cfg.MaxSize, "min_idle", cfg.MinIdle)
	return nil
}

// Warm opens connections until max(MinSize, MinIdle) exist.
func (p *Pool) Warm(ctx context.Context) error {
	cfg := p.config()
	return p.fill(ctx, max(cfg.MinSize, cfg.MinIdle), false)
}

// fill opens idle connections until target connections exist, or target
// idle ones when idleOnly is set.
func (p *Pool) fill(ctx context.Context, target int, idleOnly bool) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		have := len(p.all)
		if idleOnly {
			have = len(p.idle)
		}
		if have >= target {
			p.mu.Unlock()
			return nil
		}
		ok, _ := p.gate.tryAcquire()
		p.mu.Unlock()
		if !ok {
			return nil
		}
		if _, err := p.create(ctx, true); err != nil {
			return err
		}
	}
}
