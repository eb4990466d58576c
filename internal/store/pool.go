package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go-query-pipeline/internal/model"
)

// ConnState tracks where a pooled handle is in its lifecycle
type ConnState int

const (
	StateFree ConnState = iota
	StateCheckedOut
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateCheckedOut:
		return "CHECKED_OUT"
	default:
		return "CLOSED"
	}
}

// PooledConnection wraps a handle owned by the pool. It is only valid
// between Acquire and Release.
type PooledConnection struct {
	ID        string
	CreatedAt time.Time
	LastUsed  time.Time
	Uses      int

	conn  Conn
	pool  *Pool
	state ConnState // guarded by pool.mu
}

// Query runs a read on the underlying handle
func (pc *PooledConnection) Query(ctx context.Context, query string, args ...interface{}) (*ResultSet, error) {
	return pc.conn.Query(ctx, query, args...)
}

// State reports the handle state
func (pc *PooledConnection) State() ConnState {
	pc.pool.mu.Lock()
	defer pc.pool.mu.Unlock()
	return pc.state
}

// Pool is a bounded set of read-only handles. Live handles never exceed
// MaxConnections; Acquire blocks up to Timeout when all are checked out.
type Pool struct {
	cfg    model.PoolConfig
	open   Opener
	logger *slog.Logger

	// one token per checked-out (or being created) handle
	tokens chan struct{}

	mu     sync.Mutex
	free   []*PooledConnection
	live   int
	closed bool

	totalRequests atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	timeouts      atomic.Int64
}

// NewPool creates the pool and pre-opens MinConnections handles
func NewPool(ctx context.Context, cfg model.PoolConfig, open Opener, logger *slog.Logger) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		return nil, errors.New("pool max_connections must be positive")
	}
	if cfg.MinConnections < 0 || cfg.MinConnections > cfg.MaxConnections {
		return nil, errors.New("pool min_connections must be between 0 and max_connections")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:    cfg,
		open:   open,
		logger: logger.With("component", "pool"),
		tokens: make(chan struct{}, cfg.MaxConnections),
	}

	for i := 0; i < cfg.MinConnections; i++ {
		conn, err := open(ctx)
		if err != nil {
			p.CloseAll()
			return nil, err
		}
		p.free = append(p.free, p.wrap(conn, StateFree))
		p.live++
	}

	p.logger.Info("connection pool ready",
		"min", cfg.MinConnections, "max", cfg.MaxConnections, "timeout", cfg.Timeout)
	return p, nil
}

func (p *Pool) wrap(conn Conn, state ConnState) *PooledConnection {
	now := time.Now()
	return &PooledConnection{ID: uuid.NewString(), CreatedAt: now, LastUsed: now, conn: conn, pool: p, state: state}
}

// Acquire hands out a free handle, opening a new one while under the cap.
// When the cap is reached it waits up to the configured timeout and then
// fails with ResourceExhaustedError.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	p.totalRequests.Add(1)

	if p.isClosed() {
		return nil, model.ErrPoolClosed
	}

	select {
	case p.tokens <- struct{}{}:
	default:
		start := time.Now()
		timer := time.NewTimer(p.cfg.Timeout)
		defer timer.Stop()
		select {
		case p.tokens <- struct{}{}:
		case <-timer.C:
			p.timeouts.Add(1)
			p.logger.Warn("pool exhausted", "waited", time.Since(start), "max", p.cfg.MaxConnections)
			return nil, &model.ResourceExhaustedError{Resource: "connection_pool", Waited: time.Since(start)}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.tokens
		return nil, model.ErrPoolClosed
	}
	if n := len(p.free); n > 0 {
		pc := p.free[n-1]
		p.free = p.free[:n-1]
		pc.state = StateCheckedOut
		pc.LastUsed = time.Now()
		pc.Uses++
		p.mu.Unlock()
		p.hits.Add(1)
		return pc, nil
	}
	if p.live >= p.cfg.MaxConnections {
		p.mu.Unlock()
		<-p.tokens
		return nil, &model.ResourceExhaustedError{Resource: "connection_pool"}
	}
	p.live++
	p.mu.Unlock()

	conn, err := p.open(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		<-p.tokens
		return nil, err
	}

	pc := p.wrap(conn, StateCheckedOut)
	pc.Uses = 1

	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		conn.Close()
		<-p.tokens
		return nil, model.ErrPoolClosed
	}
	p.mu.Unlock()

	p.misses.Add(1)
	p.logger.Debug("opened pooled handle", "id", pc.ID)
	return pc, nil
}

// Release returns a handle to the free list. Releasing twice is a no-op.
func (p *Pool) Release(pc *PooledConnection) {
	p.release(pc, false)
}

// Discard closes a handle that hit a connection-level error instead of reusing it
func (p *Pool) Discard(pc *PooledConnection) {
	p.release(pc, true)
}

func (p *Pool) release(pc *PooledConnection, discard bool) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	if pc.state != StateCheckedOut {
		p.mu.Unlock()
		return
	}
	if p.closed || discard {
		pc.state = StateClosed
		p.live--
		p.mu.Unlock()
		if err := pc.conn.Close(); err != nil {
			p.logger.Warn("failed to close pooled handle", "id", pc.ID, "error", err)
		}
		<-p.tokens
		return
	}
	pc.state = StateFree
	pc.LastUsed = time.Now()
	p.free = append(p.free, pc)
	p.mu.Unlock()
	<-p.tokens
}

// With acquires a handle, runs fn and always releases it
func (p *Pool) With(ctx context.Context, fn func(*PooledConnection) error) error {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(pc)
	return fn(pc)
}

// CloseAll closes every free handle and makes later acquisitions fail.
// Handles still checked out are closed when released. Safe to call twice.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.live -= len(free)
	for _, pc := range free {
		pc.state = StateClosed
	}
	p.mu.Unlock()

	var errs []error
	for _, pc := range free {
		if err := pc.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("connection pool closed", "closed_handles", len(free))
	return errors.Join(errs...)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of pool usage
func (p *Pool) Stats() model.PoolStats {
	p.mu.Lock()
	idle := len(p.free)
	live := p.live
	p.mu.Unlock()

	return model.PoolStats{
		ActiveConnections: live - idle,
		IdleConnections:   idle,
		TotalConnections:  live,
		MaxConnections:    p.cfg.MaxConnections,
		TotalRequests:     p.totalRequests.Load(),
		Hits:              p.hits.Load(),
		Misses:            p.misses.Load(),
		Timeouts:          p.timeouts.Load(),
	}
}
