package sql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry/dialect"
)

func TestNewConn(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{dialect.Postgres, dialect.Postgres},
		{"pgx", dialect.Postgres},
		{"MySQL", dialect.MySQL},
		{"sqlite3", dialect.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			assert.Equal(t, tt.want, NewConn(tt.name, db).Dialect())
		})
	}
}

func TestConnQueryExec(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	c := NewConn(dialect.Postgres, db)
	ctx := context.Background()

	t.Run("query", func(t *testing.T) {
		mock.ExpectQuery("SELECT name FROM users WHERE id = $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a8m"))
		rows, err := c.Query(ctx, "SELECT name FROM users WHERE id = $1", 1)
		require.NoError(t, err)
		require.True(t, rows.Next())
		var name string
		require.NoError(t, rows.Scan(&name))
		assert.Equal(t, "a8m", name)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		cause := errors.New("database error")
		mock.ExpectQuery("SELECT").WillReturnError(cause)
		_, err := c.Query(ctx, "SELECT")
		require.ErrorIs(t, err, cause)
		assert.EqualError(t, err, "dialect/sql: query: database error")
	})

	t.Run("exec", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET name = $1 WHERE id = $2").
			WithArgs("a8m", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		res, err := c.Exec(ctx, "UPDATE users SET name = $1 WHERE id = $2", "a8m", 1)
		require.NoError(t, err)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_statement", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM "users" WHERE "id" IN ($1, $2)`).
			WithArgs(1, 2).
			WillReturnResult(sqlmock.NewResult(0, 2))
		res, err := c.ExecStatement(ctx, Dialect(dialect.Postgres).Delete(Table("users")).Where(In("id", 1, 2)))
		require.NoError(t, err)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		require.NoError(t, mock.ExpectationsWereMet())

		_, err = c.ExecStatement(ctx, Dialect(dialect.Postgres).Update(Table("users")))
		assert.Error(t, err, "rendering errors do not reach the database")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConnPrepare(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO "users"`)
	prep.ExpectExec().WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("b").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	stmt, err := NewConn(dialect.Postgres, tx).Prepare(context.Background(), `INSERT INTO "users" ("name") VALUES ($1)`)
	require.NoError(t, err)
	for _, name := range []string{"a", "b"} {
		_, err := stmt.ExecContext(context.Background(), name)
		require.NoError(t, err)
	}
	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewConn(dialect.Postgres, execOnly{}).Prepare(context.Background(), "SELECT 1")
	require.ErrorContains(t, err, "does not support prepared statements")
}

type execOnly struct{ ExecQuerier }

func TestEscapeStringValue(t *testing.T) {
	tests := []struct {
		dialect, in, want string
	}{
		{dialect.MySQL, "hello", "hello"},
		{dialect.MySQL, "it's", "it''s"},
		{dialect.MySQL, `C:\path`, `C:\\path`},
		{dialect.MySQL, `'\`, `''\\`},
		{"", `C:\path`, `C:\\path`},
		{dialect.Postgres, `C:\path`, `C:\path`},
		{dialect.Postgres, `it's \n`, `it''s \n`},
		{dialect.SQLite, `'\`, `''\`},
		{dialect.SQLite, "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeStringValue(tt.dialect, tt.in), "%s %q", tt.dialect, tt.in)
	}

	b := NewBuilder(dialect.Postgres).Literal()
	EQ("path", `C:\tmp`).Render(b)
	assert.Equal(t, `"path" = 'C:\tmp'`, b.String())
}
