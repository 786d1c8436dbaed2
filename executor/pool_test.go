package executor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(4, 16)
	defer p.Close()

	var n int64
	const total = 500
	for i := 0; i < total; i++ {
		require.NoError(t, p.Execute(func() { atomic.AddInt64(&n, 1) }))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&n) == total
	}, time.Second, time.Millisecond)
}

func TestPoolExecuteAfterCloseRejects(t *testing.T) {
	p := NewPool(2, 4)
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Execute(func() {}), ErrClosed)
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Close()

	var ran int64
	require.NoError(t, p.Execute(func() { panic("boom") }))
	require.NoError(t, p.Execute(func() { atomic.AddInt64(&ran, 1) }))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ran) == 1
	}, time.Second, time.Millisecond)
}
