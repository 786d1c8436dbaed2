package manager

import (
	"testing"

	"github.com/corenet/mselector"
	"github.com/stretchr/testify/require"
)

// shardIndex only consults len(m.shards), so a manager with nil shard
// pointers is enough to exercise its hashing in isolation.
func managerWithShardCount(n int) *SelectorManager {
	return &SelectorManager{shards: make([]*mselector.ManagedSelector, n)}
}

func TestShardIndexIsDeterministic(t *testing.T) {
	m := managerWithShardCount(8)
	for _, fd := range []int{3, 17, 256, 4095} {
		first := m.shardIndex(fd)
		second := m.shardIndex(fd)
		require.Equal(t, first, second, "shardIndex must be a pure function of its key")
		require.GreaterOrEqual(t, first, 0)
		require.Less(t, first, 8)
	}
}

func TestShardIndexSpreadsAcrossShards(t *testing.T) {
	m := managerWithShardCount(4)
	seen := make(map[int]bool)
	for fd := 0; fd < 64; fd++ {
		seen[m.shardIndex(fd)] = true
	}
	require.Greater(t, len(seen), 1, "64 distinct fds should not all hash to the same shard")
}

func TestDedupCacheClaimsOncePerID(t *testing.T) {
	d := newDedupCache(16)
	require.True(t, d.ShouldClose(42), "first observer should be told to proceed")
	require.False(t, d.ShouldClose(42), "a second observer must be turned away")
	require.True(t, d.ShouldClose(7), "a distinct id is independent of the first")
}

func TestDedupCacheDefaultsSizeWhenNonPositive(t *testing.T) {
	d := newDedupCache(0)
	require.NotNil(t, d.cache)
	require.True(t, d.ShouldClose(1))
}
