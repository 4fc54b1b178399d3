package pool

import (
	"context"
	"errors"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// validateWorkers bounds concurrent idle validations in one eviction run.
const validateWorkers = 4

// Evict runs one eviction pass over the head of the idle queue. Connections
// idle longer than IdleEvict are destroyed; those idle longer than
// SoftIdleEvict are destroyed while more than MinIdle remain idle. With
// TestWhileIdle the survivors are validated. Finally idle connections are
// topped up to MinIdle.
func (p *Pool) Evict(ctx context.Context) error {
	cfg := p.config()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	n := cfg.TestsPerEvictionRun
	if n <= 0 || n > len(p.idle) {
		n = len(p.idle)
	}
	idleCount := len(p.idle)
	cands := slices.Clone(p.idle[:n])
	p.idle = slices.Delete(p.idle, 0, n)
	idleFor := make([]time.Duration, n)
	now := time.Now()
	for i, pc := range cands {
		pc.state = StateEvictionTest
		idleFor[i] = now.Sub(pc.lastReturn)
	}
	p.mu.Unlock()

	keep := make([]bool, n)
	for i, pc := range cands {
		switch {
		case cfg.IdleEvict > 0 && idleFor[i] > cfg.IdleEvict:
		case cfg.SoftIdleEvict > 0 && idleFor[i] > cfg.SoftIdleEvict && idleCount > cfg.MinIdle:
		default:
			keep[i] = true
			continue
		}
		idleCount--
		p.log.DebugContext(ctx, "pool: evicting idle connection", "conn", pc.id, "idle", idleFor[i])
		p.mu.Lock()
		p.evicted++
		p.mu.Unlock()
		p.destroy(pc)
	}

	if cfg.TestWhileIdle {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(validateWorkers)
		for i, pc := range cands {
			if !keep[i] {
				continue
			}
			g.Go(func() error {
				if err := p.testIdle(gctx, pc); err != nil {
					p.log.DebugContext(ctx, "pool: idle validation failed", "conn", pc.id, "error", err)
					keep[i] = false
					p.destroy(pc)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	p.mu.Lock()
	var back, dead []*PooledConn
	for i, pc := range cands {
		switch {
		case !keep[i]:
		case p.closed:
			dead = append(dead, pc)
		case p.handoff(pc):
		default:
			pc.state = StateIdle
			back = append(back, pc)
		}
	}
	p.idle = append(back, p.idle...)
	p.mu.Unlock()
	for _, pc := range dead {
		p.destroy(pc)
	}

	return p.ensureMinIdle(ctx)
}

// testIdle runs a borrow-return cycle on an idle connection without handing
// it out.
func (p *Pool) testIdle(ctx context.Context, pc *PooledConn) error {
	if err := p.activate(ctx, pc); err != nil {
		return err
	}
	if err := p.validate(ctx, pc); err != nil {
		return err
	}
	return p.passivate(pc)
}

func (p *Pool) ensureMinIdle(ctx context.Context) error {
	minIdle := p.config().MinIdle
	if minIdle <= 0 {
		return nil
	}
	if err := p.fill(ctx, minIdle, true); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// StartEvictor runs Evict every period until StopEvictor or Close. Calling
// it while running is a no-op.
func (p *Pool) StartEvictor(period time.Duration) {
	p.evMu.Lock()
	defer p.evMu.Unlock()
	if p.evStop != nil || period <= 0 {
		return
	}
	stop := make(chan struct{})
	p.evStop, p.evPeriod = stop, period
	p.evWG.Add(1)
	go func() {
		defer p.evWG.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-stop
			cancel()
		}()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := p.Evict(ctx); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
					p.log.Warn("pool: eviction run", "error", err)
				}
			}
		}
	}()
}

// StopEvictor stops the evictor and waits for a running pass to finish.
func (p *Pool) StopEvictor() {
	p.evMu.Lock()
	stop := p.evStop
	p.evStop = nil
	p.evMu.Unlock()
	if stop != nil {
		close(stop)
	}
	p.evWG.Wait()
}
