package sql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
)

func TestSelector(t *testing.T) {
	users, pets := sql.Table("users"), sql.Table("pets").As("p")
	tests := []struct {
		name     string
		sel      *sql.Selector
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "star",
			sel:     sql.Dialect(dialect.MySQL).Select().From(users),
			wantSQL: "SELECT * FROM `users`",
		},
		{
			name: "where_order_limit",
			sel: sql.Dialect(dialect.Postgres).
				Select(users.C("id"), users.C("name")).
				From(users).
				Where(sql.EQ(users.C("name"), "a8m")).
				Where(sql.GT(users.C("age"), 30)).
				OrderBy(sql.Desc(users.C("id"))).
				Limit(10).
				Offset(20),
			wantSQL:  `SELECT "users"."id", "users"."name" FROM "users" WHERE "users"."name" = $1 AND "users"."age" > $2 ORDER BY "users"."id" DESC LIMIT 10 OFFSET 20`,
			wantArgs: []any{"a8m", 30},
		},
		{
			name:    "offset_without_limit",
			sel:     sql.Dialect(dialect.SQLite).Select("id").From(users).Offset(5),
			wantSQL: "SELECT `id` FROM `users` LIMIT -1 OFFSET 5",
		},
		{
			name: "join",
			sel: sql.Dialect(dialect.Postgres).
				Select(users.C("name"), sql.As(sql.Count(nil), "n")).
				From(users).
				LeftJoin(pets, sql.ColumnsEQ(pets.C("owner_id"), users.C("id"))).
				Where(sql.NEQ(pets.C("kind"), "cat")).
				GroupBy(users.C("name")).
				Having(sql.GT(sql.Count(nil), 1)),
			wantSQL:  `SELECT "users"."name", COUNT(*) AS "n" FROM "users" LEFT JOIN "pets" AS "p" ON "p"."owner_id" = "users"."id" WHERE "p"."kind" <> $1 GROUP BY "users"."name" HAVING COUNT(*) > $2`,
			wantArgs: []any{"cat", 1},
		},
		{
			name: "cte_bind_order",
			sel: sql.Dialect(dialect.Postgres).
				Select("owner").
				With("dogs", sql.Select("id", "owner").From(sql.Table("pets")).Where(sql.EQ("kind", "dog"))).
				From(sql.Table("dogs")).
				Where(sql.In("owner", 1, 2)).
				OrderBy(sql.Asc(sql.Coalesce("owner", 0))),
			wantSQL:  `WITH "dogs" AS (SELECT "id", "owner" FROM "pets" WHERE "kind" = $1) SELECT "owner" FROM "dogs" WHERE "owner" IN ($2, $3) ORDER BY COALESCE("owner", $4)`,
			wantArgs: []any{"dog", 1, 2, 0},
		},
		{
			name: "sub_select",
			sel: sql.Dialect(dialect.MySQL).
				Select("name").
				From(users).
				Where(sql.And(
					sql.EQ("active", true),
					sql.InSelect("id", sql.Select("owner_id").From(sql.Table("pets")).Where(sql.EQ("kind", "dog"))),
				)),
			wantSQL:  "SELECT `name` FROM `users` WHERE `active` = ? AND `id` IN (SELECT `owner_id` FROM `pets` WHERE `kind` = ?)",
			wantArgs: []any{true, "dog"},
		},
		{
			name: "union",
			sel: sql.Dialect(dialect.SQLite).
				Select("id").From(users).Where(sql.LT("id", 10)).
				UnionAll(sql.Select("id").From(sql.Table("admins")).Where(sql.GT("id", 100))),
			wantSQL:  "SELECT `id` FROM `users` WHERE `id` < ? UNION ALL SELECT `id` FROM `admins` WHERE `id` > ?",
			wantArgs: []any{10, 100},
		},
		{
			name:    "distinct",
			sel:     sql.Dialect(dialect.Postgres).Select("name").Distinct().From(users.Schema("app")),
			wantSQL: `SELECT DISTINCT "name" FROM "app"."users"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.sel.Err())
			query, args := tt.sel.Query()
			assert.Equal(t, tt.wantSQL, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestSelectorLock(t *testing.T) {
	users := sql.Table("users")
	tests := []struct {
		dialect string
		sel     func(*sql.Selector) *sql.Selector
		want    string
	}{
		{dialect.Postgres, func(s *sql.Selector) *sql.Selector { return s.ForUpdate() }, `SELECT * FROM "users" FOR UPDATE`},
		{dialect.Postgres, func(s *sql.Selector) *sql.Selector { return s.ForUpdate(sql.LockSkipLocked) }, `SELECT * FROM "users" FOR UPDATE SKIP LOCKED`},
		{dialect.Postgres, func(s *sql.Selector) *sql.Selector { return s.ForShare(sql.LockNoWait) }, `SELECT * FROM "users" FOR SHARE NOWAIT`},
		{dialect.MySQL, func(s *sql.Selector) *sql.Selector { return s.ForShare() }, "SELECT * FROM `users` LOCK IN SHARE MODE"},
		{dialect.SQLite, func(s *sql.Selector) *sql.Selector { return s.ForUpdate() }, "SELECT * FROM `users`"},
	}
	for _, tt := range tests {
		query, _ := tt.sel(sql.Dialect(tt.dialect).Select().From(users)).Query()
		assert.Equal(t, tt.want, query)
	}
}

func TestSelectorRaw(t *testing.T) {
	users := sql.Table("users")
	s := sql.Dialect(dialect.Postgres).
		Select(users.C("id"), users.C("name")).
		From(users).
		Raw("select * from users where age > ? and name <> ?", 30, "x").
		OrderBy(sql.Asc(users.C("id")))
	query, args := s.Query()
	assert.Equal(t, `SELECT "users"."id", "users"."name" FROM users where age > $1 and name <> $2 ORDER BY "users"."id"`, query)
	assert.Equal(t, []any{30, "x"}, args)
	assert.True(t, s.IsRaw())

	// Anything but a bare star select is used verbatim.
	s = sql.Dialect(dialect.MySQL).Select("id").Raw("SELECT id FROM users WHERE id = ?", 1)
	query, args = s.Query()
	assert.Equal(t, "SELECT id FROM users WHERE id = ?", query)
	assert.Equal(t, []any{1}, args)
}

func TestSelectorString(t *testing.T) {
	s := sql.Dialect(dialect.Postgres).Select("id").From(sql.Table("users")).Where(sql.EQ("name", "a8m"))
	assert.Equal(t, `SELECT "id" FROM "users" WHERE "name" = 'a8m'`, s.String())
}

func TestSelectorClone(t *testing.T) {
	users := sql.Table("users")
	s := sql.Dialect(dialect.Postgres).Select(users.C("id")).From(users).Where(sql.EQ(users.C("id"), 1)).Limit(1)
	c := s.Clone().Where(sql.EQ(users.C("name"), "x")).Limit(5)
	query, _ := s.Query()
	assert.Equal(t, `SELECT "users"."id" FROM "users" WHERE "users"."id" = $1 LIMIT 1`, query)
	query, args := c.Query()
	assert.Equal(t, `SELECT "users"."id" FROM "users" WHERE "users"."id" = $1 AND "users"."name" = $2 LIMIT 5`, query)
	assert.Equal(t, []any{1, "x"}, args)
}

func TestSelectorCloneRebind(t *testing.T) {
	users, pets := sql.Table("users"), sql.Table("pets")
	s := sql.Dialect(dialect.Postgres).
		Select(users.C("id")).
		From(users).
		Join(pets, sql.ColumnsEQ(pets.C("owner_id"), users.C("id"))).
		Where(sql.EQ(users.C("name"), "a8m")).
		OrderBy(sql.Asc(users.C("id")))
	t1 := users.As("t1")
	c := s.CloneRebind(users, t1)
	query, args := c.Query()
	assert.Equal(t, `SELECT "t1"."id" FROM "users" AS "t1" JOIN "pets" ON "pets"."owner_id" = "t1"."id" WHERE "t1"."name" = $1 ORDER BY "t1"."id"`, query)
	assert.Equal(t, []any{"a8m"}, args)
	assert.Same(t, t1, c.Table())

	query, _ = s.Query()
	assert.Equal(t, `SELECT "users"."id" FROM "users" JOIN "pets" ON "pets"."owner_id" = "users"."id" WHERE "users"."name" = $1 ORDER BY "users"."id"`, query)
}

func TestSelectorIntrospection(t *testing.T) {
	s := sql.Select("a").From(sql.Table("t"))
	assert.False(t, s.IsAggregate())
	assert.False(t, s.HasLimit())
	assert.False(t, s.HasJoins())
	s.GroupBy("a")
	assert.True(t, s.IsAggregate())
	assert.True(t, s.HasGroupBy())
	assert.True(t, s.Limit(1).HasLimit())
	assert.Len(t, s.SelectedColumns(), 1)
	assert.Nil(t, s.P())
	assert.Nil(t, s.Where(nil).P())
}
