package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/query"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/txn"
)

func newQueryCommand(load func() settings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query TABLE [SQL [ARG...]]",
		Short: "Print the rows of a table or of a raw statement",
		Long: `Print the rows of TABLE, or of SQL when given. Placeholders in SQL are
written as ? for every dialect and bound to ARG in order. The statement runs
in a transaction that is always rolled back.`,
		Example: `  quarry query users --limit 10
  quarry query users "SELECT * FROM users WHERE age > ?" 30 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			tx, err := txn.Begin(ctx, p, nil, txn.WithLogger(log))
			if err != nil {
				return err
			}
			defer tx.Rollback()

			q := query.From(schema.FromColumns(args[0]))
			switch {
			case len(args) > 1:
				q.Raw(args[1], bind(args[2:])...)
			case limit > 0:
				q.Limit(limit)
			}
			c, err := query.NewExecutor(query.WithLogger(log)).Query(txn.NewContext(ctx, tx), q)
			if err != nil {
				return err
			}
			defer c.Close()
			out := newRowWriter(cmd.OutOrStdout(), s.JSON, c.Definition().Columns())
			for c.Next() {
				if err := out.write(c.Record()); err != nil {
					return err
				}
				// Raw statements are not rewritten, so the limit is applied here.
				if limit > 0 && c.Rows() >= limit {
					c.Cancel()
				}
			}
			if err := c.Err(); err != nil {
				return err
			}
			if err := out.flush(); err != nil {
				return err
			}
			if c.Canceled() && (limit <= 0 || c.Rows() < limit) {
				return fmt.Errorf("canceled after %d rows: %w", c.Rows(), ctx.Err())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows to print")
	return cmd
}

func bind(args []string) []any {
	vs := make([]any, len(args))
	for i, a := range args {
		vs[i] = a
	}
	return vs
}

// rowWriter prints records as JSON lines or as an aligned table.
type rowWriter struct {
	json    bool
	enc     *json.Encoder
	tw      *tabwriter.Writer
	columns []string
	header  bool
}

func newRowWriter(w io.Writer, asJSON bool, columns []string) *rowWriter {
	if asJSON {
		return &rowWriter{json: true, enc: json.NewEncoder(w), columns: columns}
	}
	return &rowWriter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0), columns: columns}
}

func (r *rowWriter) write(rec *entity.Record) error {
	if r.json {
		m := rec.Map()
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		return r.enc.Encode(m)
	}
	if !r.header {
		r.header = true
		if _, err := fmt.Fprintln(r.tw, strings.Join(r.columns, "\t")); err != nil {
			return err
		}
	}
	cells := make([]string, rec.Len())
	for i := range cells {
		cells[i] = format(rec.Value(i))
	}
	_, err := fmt.Fprintln(r.tw, strings.Join(cells, "\t"))
	return err
}

func (r *rowWriter) flush() error {
	if r.tw == nil {
		return nil
	}
	return r.tw.Flush()
}

func format(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
