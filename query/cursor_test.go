package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/query"
)

func ordered() *query.Query {
	q := query.From(users)
	return q.OrderBy(sql.Asc(q.C("id")))
}

func TestCursorCancel(t *testing.T) {
	ctx, tx, _ := setup(t)
	c, err := query.NewExecutor().Query(ctx, ordered())
	require.NoError(t, err)
	require.True(t, c.Next())
	c.Cancel()
	assert.False(t, c.Next())
	assert.True(t, c.Canceled())
	assert.NoError(t, c.Err(), "cancellation is not an error")
	assert.Nil(t, c.Record())
	assert.Equal(t, 1, c.Rows())
	assert.Zero(t, tx.Leases(), "canceled cursor closes itself")
	assert.False(t, c.Next())
}

func TestCursorContextCanceled(t *testing.T) {
	ctx, tx, _ := setup(t)
	ctx, cancel := context.WithCancel(ctx)
	c, err := query.NewExecutor().Query(ctx, ordered())
	require.NoError(t, err)
	require.True(t, c.Next())
	cancel()
	assert.False(t, c.Next())
	assert.True(t, c.Canceled())
	assert.NoError(t, c.Err())
	assert.Zero(t, tx.Leases())
}

func TestCursorCloseOnce(t *testing.T) {
	ctx, tx, _ := setup(t)
	c, err := query.NewExecutor().Query(ctx, ordered())
	require.NoError(t, err)
	assert.Error(t, tx.Commit(), "open cursor blocks commit")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Next())
	assert.False(t, c.Canceled())
	assert.Zero(t, tx.Leases())
	require.NoError(t, tx.Commit())
}

func TestCursorExhaustion(t *testing.T) {
	ctx, tx, _ := setup(t)
	c, err := query.NewExecutor().Query(ctx, ordered())
	require.NoError(t, err)
	var ids []any
	for c.Next() {
		ids = append(ids, c.Record().Value(0))
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ids)
	assert.Zero(t, tx.Leases(), "exhausted cursor closes itself")
}

func TestCursorRecords(t *testing.T) {
	ctx, tx, _ := setup(t)
	c, err := query.NewExecutor().Query(ctx, ordered())
	require.NoError(t, err)
	var names []string
	for rec, err := range c.Records() {
		require.NoError(t, err)
		name, _ := rec.Get("name")
		names = append(names, name.(string))
		if len(names) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a8m", "nati"}, names)
	assert.Zero(t, tx.Leases(), "breaking out of the loop closes the cursor")
	assert.False(t, c.Next())
}
