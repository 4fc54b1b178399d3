// Package pool implements a bounded pool of dedicated database connections.
//
// Unlike the pool built into database/sql, a borrowed connection is a single
// physical session: session state such as the default catalog or schema is
// restored on every borrow, dangling transactions are rolled back on return,
// and connections that saw a disconnection error are never reused.
//
// # Borrowing
//
//	p, err := pool.Open("pgx", dsn, pool.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	pc, err := p.Borrow(ctx)
//	if err != nil {
//		return err
//	}
//	defer p.Return(pc)
//
// Borrow prefers idle connections in FIFO order, opens a new connection while
// under MaxSize, and otherwise queues the caller. Waiters are served in
// arrival order. A borrow that waits longer than MaxWait is retried once
// before failing with a *NoResourceError.
//
// # Eviction
//
// An evictor goroutine periodically examines the head of the idle queue,
// destroys connections idle for too long, optionally validates the others
// and tops the idle queue up to MinIdle.
//
// # Configuration
//
// Config is loadable from YAML with LoadConfig and can be swapped on a live
// pool with Reconfigure or WatchConfig. NewCollector exports Stats to
// Prometheus.
package pool
