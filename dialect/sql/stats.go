package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// QueryStats holds statement execution counters.
type QueryStats struct {
	// TotalQueries counts statements that return rows.
	TotalQueries atomic.Int64
	// TotalExecs counts write batches.
	TotalExecs atomic.Int64
	// TotalDuration is the time spent executing, in nanoseconds.
	TotalDuration atomic.Int64
	// SlowQueries counts statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors counts failed statements and batches.
	Errors atomic.Int64
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset zeroes the counters.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	TotalQueries  int64         `json:"total_queries"`
	TotalExecs    int64         `json:"total_execs"`
	TotalDuration time.Duration `json:"total_duration"`
	SlowQueries   int64         `json:"slow_queries"`
	Errors        int64         `json:"errors"`
}

// AvgQueryDuration returns the mean duration over queries and batches.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	if n := s.TotalQueries + s.TotalExecs; n > 0 {
		return s.TotalDuration / time.Duration(n)
	}
	return 0
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(), s.SlowQueries, s.Errors)
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsRecorder accounts statement timings into a QueryStats and reports
// slow statements. One recorder may be shared by query executors and
// writers. A nil *StatsRecorder records nothing.
type StatsRecorder struct {
	stats     QueryStats
	threshold atomic.Int64 // nanoseconds
	hook      SlowQueryHook
}

// StatsOption configures a StatsRecorder.
type StatsOption func(*StatsRecorder)

// WithSlowThreshold sets the slow statement threshold. The default is
// 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsRecorder) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryHook sets the callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsRecorder) { s.hook = hook }
}

// WithSlowQueryLog logs slow statements at warn level to l, or to the
// default logger when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, d time.Duration) {
		l.WarnContext(ctx, "slow statement", "sql", query, "args", len(args), "duration", d)
	})
}

// NewStatsRecorder returns a recorder with zeroed counters.
func NewStatsRecorder(opts ...StatsOption) *StatsRecorder {
	s := &StatsRecorder{}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the counters.
func (s *StatsRecorder) QueryStats() *QueryStats { return &s.stats }

// SlowThreshold returns the slow statement threshold.
func (s *StatsRecorder) SlowThreshold() time.Duration {
	return time.Duration(s.threshold.Load())
}

// SetSlowThreshold changes the slow statement threshold. It is safe for
// concurrent use with Record.
func (s *StatsRecorder) SetSlowThreshold(d time.Duration) { s.threshold.Store(int64(d)) }

// Record accounts one query (isQuery) or write batch that started at start.
func (s *StatsRecorder) Record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	if s == nil {
		return
	}
	d := time.Since(start)
	if isQuery {
		s.stats.TotalQueries.Add(1)
	} else {
		s.stats.TotalExecs.Add(1)
	}
	s.stats.TotalDuration.Add(int64(d))
	if err != nil {
		s.stats.Errors.Add(1)
	}
	if d > s.SlowThreshold() {
		s.stats.SlowQueries.Add(1)
		if s.hook != nil {
			s.hook(ctx, query, args, d)
		}
	}
}
