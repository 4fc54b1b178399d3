package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// age moves the last return time of every idle connection back by d.
func age(p *Pool, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.idle {
		pc.lastReturn = pc.lastReturn.Add(-d)
	}
}

func idleIDs(p *Pool) []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uuid.UUID, len(p.idle))
	for i, pc := range p.idle {
		ids[i] = pc.id
	}
	return ids
}

func TestEvictHard(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.MinSize = 3
	cfg.IdleEvict = time.Hour
	cfg.SoftIdleEvict = 0
	cfg.TestsPerEvictionRun = 0
	p, fc := newTestPool(t, cfg)
	require.NoError(t, p.Warm(context.Background()))
	age(p, 2*time.Hour)

	require.NoError(t, p.Evict(context.Background()))
	assert.Equal(t, 0, p.Stats().Total)
	for _, c := range fc.opened() {
		assert.True(t, c.isClosed())
	}
}

func TestEvictSoftKeepsMinIdle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.MinSize = 3
	cfg.MinIdle = 1
	cfg.IdleEvict = time.Hour
	cfg.SoftIdleEvict = time.Minute
	cfg.TestsPerEvictionRun = 0
	p, fc := newTestPool(t, cfg)
	require.NoError(t, p.Warm(context.Background()))
	ids := idleIDs(p)
	age(p, 2*time.Minute)

	require.NoError(t, p.Evict(context.Background()))
	s := p.Stats()
	assert.Equal(t, 1, s.Idle)
	assert.EqualValues(t, 2, s.Destroyed)
	assert.EqualValues(t, 2, s.Evicted)
	assert.Equal(t, ids[2:], idleIDs(p), "oldest idle connections go first")
	assert.Len(t, fc.opened(), 3, "min idle already satisfied")
}

func TestEvictBoundedRun(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 4
	cfg.MinSize = 4
	cfg.IdleEvict = time.Hour
	cfg.TestsPerEvictionRun = 2
	p, _ := newTestPool(t, cfg)
	require.NoError(t, p.Warm(context.Background()))
	ids := idleIDs(p)
	age(p, 2*time.Hour)

	require.NoError(t, p.Evict(context.Background()))
	assert.Equal(t, ids[2:], idleIDs(p), "only the head of the queue is examined")
}

func TestEvictTestWhileIdle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.MinSize = 3
	cfg.TestWhileIdle = true
	cfg.TestsPerEvictionRun = 0
	p, fc := newTestPool(t, cfg)
	require.NoError(t, p.Warm(context.Background()))
	ids := idleIDs(p)
	fc.opened()[1].setPingErr(errors.New("gone"))

	require.NoError(t, p.Evict(context.Background()))
	assert.Equal(t, []uuid.UUID{ids[0], ids[2]}, idleIDs(p), "survivors keep their order")
	assert.True(t, fc.opened()[1].isClosed())
	assert.EqualValues(t, 1, p.Stats().Invalidated)
	for _, id := range idleIDs(p) {
		p.mu.Lock()
		assert.Equal(t, StateIdle, p.all[id].state)
		p.mu.Unlock()
	}
}

func TestEvictEnsuresMinIdle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.MinIdle = 2
	p, fc := newTestPool(t, cfg)
	pc, err := p.Borrow(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Evict(context.Background()))
	s := p.Stats()
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, 3, s.Total)
	assert.Len(t, fc.opened(), 3)
	require.NoError(t, p.Return(pc))
}

func TestEvictor(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 2
	cfg.IdleEvict = time.Nanosecond
	p, _ := newTestPool(t, cfg)
	require.NoError(t, p.Warm(context.Background()))

	p.StartEvictor(5 * time.Millisecond)
	p.StartEvictor(5 * time.Millisecond)
	require.Eventually(t, func() bool { return p.Stats().Total == 0 }, time.Second, time.Millisecond)
	p.StopEvictor()
	p.StopEvictor()

	require.NoError(t, p.Warm(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, p.Stats().Idle, "stopped evictor no longer runs")
}

func TestEvictClosed(t *testing.T) {
	p, _ := newTestPool(t, testConfig())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Evict(context.Background()), ErrClosed)
}
