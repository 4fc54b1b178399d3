package quarry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	v, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Set(ctx, "users:select:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "users:count:a", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "posts:select:a", []byte("3"), 0))

	v, err = c.Get(ctx, "users:select:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(time.Minute)
	v, err = c.Get(ctx, "users:select:a")
	require.NoError(t, err)
	assert.Nil(t, v, "entry expired")
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.DeletePrefix(ctx, "users:"))
	v, _ = c.Get(ctx, "users:count:a")
	assert.Nil(t, v)
	v, _ = c.Get(ctx, "posts:select:a")
	assert.Equal(t, []byte("3"), v)

	require.NoError(t, c.Delete(ctx, "posts:select:a"))
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestCacheKey(t *testing.T) {
	k := CacheKey{Table: "users", Operation: "select", Predicates: "a=1", OrderBy: "id"}
	assert.Equal(t, "users:select:a=1:id", k.String())
	k.Limit, k.Offset = 10, 20
	assert.Equal(t, "users:select:a=1:id:10:20", k.String())
}
