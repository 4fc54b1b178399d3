package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/schema/field"
)

var users = schema.Entity("User").
	Fields(
		field.Int64("id"),
		field.String("name").Column("user_name"),
		field.Int("age").Nillable(),
	).
	Identity().
	MustBuild()

func TestRecordLifecycle(t *testing.T) {
	r := entity.New(users)
	assert.Equal(t, entity.StateNew, r.State())
	assert.Equal(t, "users#new", r.String())
	require.NoError(t, r.Set("name", "a8m"))
	assert.Equal(t, entity.StateNew, r.State(), "new records stay new")
	assert.False(t, r.HasIDs())

	r = entity.Load(users, []any{int64(1), "a8m", 30})
	assert.Equal(t, entity.StatePersisted, r.State())
	assert.Equal(t, "users#1", r.String())
	require.NoError(t, r.Set("age", 31))
	assert.Equal(t, entity.StateModified, r.State())
	v, ok := r.Get("age")
	assert.True(t, ok)
	assert.Equal(t, 31, v)

	r.Delete()
	assert.Equal(t, entity.StateDeleted, r.State())
	assert.Error(t, r.Set("age", 32))
	assert.Error(t, entity.New(users).Set("missing", 1))
	assert.Panics(t, func() { entity.Load(users, []any{1}) })
}

func TestRecordValues(t *testing.T) {
	r := entity.New(users).MustSet("id", int64(7)).MustSet("name", "x")
	assert.True(t, r.HasIDs())
	assert.Equal(t, []any{int64(7)}, r.IDs())
	vs := r.Values()
	vs[1] = "changed"
	assert.Equal(t, "x", r.Value(1), "Values returns a copy")
	assert.Equal(t, map[string]any{"id": int64(7), "name": "x", "age": nil}, r.Map())

	r.SetRowID(int64(99))
	assert.Equal(t, int64(99), r.RowID())
	assert.Equal(t, "new", entity.StateNew.String())
	assert.Equal(t, "State(9)", entity.State(9).String())
}

func TestRecordRow(t *testing.T) {
	r := entity.Load(users, []any{int64(1), "a8m", nil})
	v, ok := r.Column("user_name")
	assert.True(t, ok)
	assert.Equal(t, "a8m", v)
	assert.True(t, sql.EQ("name", "a8m").Test(r))
	assert.True(t, sql.EQ("age", nil).Test(r))
	assert.False(t, sql.GT("id", 1).Test(r))
	_, ok = r.Column("missing")
	assert.False(t, ok)
}
