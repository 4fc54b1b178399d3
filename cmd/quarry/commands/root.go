// Package commands implements the quarry command line.
package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Drivers selectable with --driver.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/quarry/dialect/sql/pool"
)

// settings are the global options, read from flags or QUARRY_* environment
// variables.
type settings struct {
	Driver  string
	DSN     string
	Config  string
	Timeout time.Duration
	JSON    bool
	Verbose bool
}

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

// NewRootCommand returns the quarry command tree.
func NewRootCommand(version string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "quarry",
		Short: "Check and inspect databases through a quarry connection pool",
		Long: `quarry opens a connection pool against a database and runs diagnostics on it.

Every flag can also be set in the environment with a QUARRY_ prefix,
for example QUARRY_DSN or QUARRY_DRIVER.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("driver", "postgres", "database/sql driver: postgres, pgx, mysql or sqlite")
	pf.String("dsn", "", "data source name")
	pf.StringP("config", "c", "", "pool configuration file (YAML)")
	pf.Duration("timeout", 30*time.Second, "overall command timeout")
	pf.Bool("json", false, "output in JSON format")
	pf.BoolP("verbose", "v", false, "log pool and query events to stderr")
	_ = v.BindPFlags(pf)

	load := func() settings {
		return settings{
			Driver:  v.GetString("driver"),
			DSN:     v.GetString("dsn"),
			Config:  v.GetString("config"),
			Timeout: v.GetDuration("timeout"),
			JSON:    v.GetBool("json"),
			Verbose: v.GetBool("verbose"),
		}
	}
	root.AddCommand(newCheckCommand(load))
	root.AddCommand(newQueryCommand(load))
	root.AddCommand(newStatsCommand(load))
	return root
}

func (s settings) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if s.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (s settings) context(parent context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.Timeout)
}

// poolConfig loads the pool configuration. Commands are short-lived, so the
// background evictor is disabled.
func (s settings) poolConfig() (pool.Config, error) {
	cfg := pool.DefaultConfig()
	if s.Config != "" {
		var err error
		if cfg, err = pool.LoadConfig(s.Config); err != nil {
			return pool.Config{}, err
		}
	}
	cfg.EvictionInterval = 0
	return cfg, nil
}

func (s settings) open(cfg pool.Config, log *slog.Logger) (*pool.Pool, error) {
	if s.DSN == "" {
		return nil, errors.New("no data source name, set --dsn or QUARRY_DSN")
	}
	return pool.Open(s.Driver, s.DSN, cfg, pool.WithLogger(log))
}

// emit writes v as indented JSON, or calls text in plain output mode.
func (s settings) emit(w io.Writer, v any, text func(io.Writer) error) error {
	if s.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
