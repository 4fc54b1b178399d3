package commands

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/pool"
	"github.com/syssam/quarry/query"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/txn"
)

type statsResult struct {
	Pool    pool.Stats         `json:"pool"`
	Queries sql.StatsSnapshot  `json:"queries"`
	Metrics map[string]float64 `json:"metrics"`
}

func newStatsCommand(load func() settings) *cobra.Command {
	var (
		probe string
		count int
		slow  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run a probe statement and report pool and query statistics",
		Long: `Run the probe statement COUNT times, each in its own transaction, then print
the pool statistics, the query statistics and the pool metrics as exported
to Prometheus.`,
		Example: `  quarry stats --count 100 --slow 5ms --driver mysql --dsn 'root:pass@/app'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := load()
			cfg, err := s.poolConfig()
			if err != nil {
				return err
			}
			ctx, cancel := s.context(cmd.Context())
			defer cancel()
			log := s.logger(cmd.ErrOrStderr())
			p, err := s.open(cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()
			reg := prometheus.NewRegistry()
			if err := reg.Register(pool.NewCollector(p, "quarry")); err != nil {
				return err
			}

			rec := sql.NewStatsRecorder(sql.WithSlowThreshold(slow), sql.WithSlowQueryLog(log))
			exec := query.NewExecutor(query.WithStats(rec), query.WithLogger(log))
			q := query.From(schema.FromColumns("probe")).Raw(probe)
			for range count {
				if err := probeOnce(ctx, p, exec, q); err != nil {
					return err
				}
			}

			res := statsResult{Pool: p.Stats(), Queries: rec.QueryStats().Stats(), Metrics: map[string]float64{}}
			mfs, err := reg.Gather()
			if err != nil {
				return err
			}
			for _, mf := range mfs {
				for _, m := range mf.GetMetric() {
					res.Metrics[mf.GetName()] += m.GetGauge().GetValue() + m.GetCounter().GetValue()
				}
			}
			return s.emit(cmd.OutOrStdout(), res, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "pool: total=%d idle=%d borrowed=%d waits=%d timeouts=%d\n",
					res.Pool.Total, res.Pool.Idle, res.Pool.Borrowed, res.Pool.Waits, res.Pool.Timeouts); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "queries: %s\n", res.Queries); err != nil {
					return err
				}
				for _, name := range slices.Sorted(maps.Keys(res.Metrics)) {
					if _, err := fmt.Fprintf(w, "%s %g\n", name, res.Metrics[name]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&probe, "probe", "SELECT 1", "statement to run")
	cmd.Flags().IntVar(&count, "count", 10, "number of probe runs")
	cmd.Flags().DurationVar(&slow, "slow", 100*time.Millisecond, "slow statement threshold")
	return cmd
}

// probeOnce runs q to completion in a transaction of its own.
func probeOnce(ctx context.Context, p *pool.Pool, exec *query.Executor, q *query.Query) error {
	tx, err := txn.Begin(ctx, p, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	c, err := exec.Query(txn.NewContext(ctx, tx), q.Clone())
	if err != nil {
		return err
	}
	_, err = c.All()
	return err
}
