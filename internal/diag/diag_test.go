package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/upnpkit/internal/threadpool"
)

func TestSnapshotIncludesPoolStats(t *testing.T) {
	pool := threadpool.New(threadpool.DefaultAttrs())
	defer pool.Shutdown()
	require.NoError(t, pool.AddPersistent(func(any) { <-pool.Stopping() }, nil, nil, threadpool.Med))

	c := NewCollector(pool)
	snap := c.Snapshot()

	assert.GreaterOrEqual(t, snap.NumCPU, 1)
	assert.GreaterOrEqual(t, snap.NumGoroutine, 1)
	assert.Equal(t, 1, snap.Pool.PersistentThreads)
}

func TestSnapshotWithoutPool(t *testing.T) {
	c := NewCollector(nil)
	snap := c.Snapshot()
	assert.Equal(t, threadpool.Stats{}, snap.Pool)
}
