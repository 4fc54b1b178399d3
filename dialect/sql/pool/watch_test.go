package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_size: 2\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.EvictionInterval = 0
	p, _ := newTestPool(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- WatchConfig(ctx, path, p) }()
	// Give the watcher time to register.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("max_size: [\n"), 0o600))
	time.Sleep(2 * reloadDelay)
	assert.Equal(t, 2, p.Stats().MaxSize, "invalid file is ignored")

	require.NoError(t, os.WriteFile(path, []byte("max_size: 5\neviction_interval: 0s\n"), 0o600))
	require.Eventually(t, func() bool { return p.Stats().MaxSize == 5 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
