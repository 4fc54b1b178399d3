package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/syssam/quarry/dialect/sql/pool"
)

type checkResult struct {
	Dialect string        `json:"dialect,omitempty"`
	Config  pool.Config   `json:"config"`
	Latency time.Duration `json:"latency,omitempty"`
	Pool    *pool.Stats   `json:"pool,omitempty"`
}

func newCheckCommand(load func() settings) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the pool configuration and the database connection",
		Long: `Validate the pool configuration, then open the pool, warm it to its
minimum size and borrow one validated connection.`,
		Example: `  # Validate a configuration file without connecting
  quarry check --offline -c pool.yaml

  # Check a Postgres database
  QUARRY_DSN=postgres://localhost/app quarry check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := load()
			cfg, err := s.poolConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			res := checkResult{Config: cfg}
			if offline {
				return s.emit(cmd.OutOrStdout(), res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "config ok: max_size=%d min_idle=%d max_wait=%s\n", cfg.MaxSize, cfg.MinIdle, cfg.MaxWait)
					return err
				})
			}
			ctx, cancel := s.context(cmd.Context())
			defer cancel()
			cfg.TestOnBorrow = true
			p, err := s.open(cfg, s.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer p.Close()
			start := time.Now()
			if err := p.Warm(ctx); err != nil {
				return fmt.Errorf("warm: %w", err)
			}
			pc, err := p.Borrow(ctx)
			if err != nil {
				return err
			}
			if err := p.Return(pc); err != nil {
				return err
			}
			stats := p.Stats()
			res.Dialect, res.Latency, res.Pool = p.Dialect(), time.Since(start), &stats
			return s.emit(cmd.OutOrStdout(), res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "ok: %s in %s (%d connections, %d idle)\n",
					res.Dialect, res.Latency.Round(time.Microsecond), stats.Total, stats.Idle)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "only validate the configuration")
	return cmd
}
