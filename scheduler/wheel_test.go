package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWheelFiresAfterDelay(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	var fired int32
	w.Schedule(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, time.Millisecond)
}

func TestWheelCancelBeforeFire(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	var fired int32
	c := w.Schedule(100*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	require.True(t, c.Cancel())

	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestWheelCancelAfterFireReturnsFalse(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	done := make(chan struct{})
	c := w.Schedule(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
	require.False(t, c.Cancel())
}

func TestWheelOrdersEarliestFirst(t *testing.T) {
	w := NewWheel()
	defer w.Close()

	var order []int
	done := make(chan struct{})
	w.Schedule(40*time.Millisecond, func() { order = append(order, 2) })
	w.Schedule(10*time.Millisecond, func() {
		order = append(order, 1)
	})
	w.Schedule(60*time.Millisecond, func() {
		order = append(order, 3)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks never completed")
	}
	require.Equal(t, []int{1, 2, 3}, order)
}
