//go:build !windows

package endpoint

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// socketpair returns two connected, non-blocking Unix-domain socket fds,
// grounded on the teacher's raw-fd test style (aio_test.go exercised
// watcher.go directly against real file descriptors rather than mocks).
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, syscall.SetNonblock(fds[0], true))
	require.NoError(t, syscall.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func TestConnectionDrainReadDeliversBytes(t *testing.T) {
	a, b := socketpair(t)
	defer syscall.Close(a)
	defer syscall.Close(b)

	var mu sync.Mutex
	var got []byte
	c := &Connection{fd: a, handler: func(_ *Connection, data []byte) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	}}

	_, err := syscall.Write(b, []byte("PING"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var buf [16]byte
		didRead, _ := c.drainRead(buf[:])
		return didRead
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "PING", string(got))
}

func TestConnectionDrainWriteFlushesQueuedBytes(t *testing.T) {
	a, b := socketpair(t)
	defer syscall.Close(a)
	defer syscall.Close(b)

	c := &Connection{fd: a, out: []byte("PONG")}
	didWrite := c.drainWrite()
	require.True(t, didWrite)

	var buf [16]byte
	require.Eventually(t, func() bool {
		n, err := syscall.Read(b, buf[:])
		return err == nil && n == 4
	}, time.Second, time.Millisecond)
}

func TestConnectionEchoesViaQueueEcho(t *testing.T) {
	a, b := socketpair(t)
	defer syscall.Close(a)
	defer syscall.Close(b)

	c := &Connection{fd: a, handler: func(c *Connection, data []byte) {
		c.QueueEcho(data)
	}}

	_, err := syscall.Write(b, []byte("PING"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var buf [16]byte
		didRead, _ := c.drainRead(buf[:])
		return didRead
	}, time.Second, time.Millisecond)

	require.True(t, c.drainWrite())

	var buf [16]byte
	require.Eventually(t, func() bool {
		n, err := syscall.Read(b, buf[:])
		return err == nil && n == 4
	}, time.Second, time.Millisecond)
	require.Equal(t, "PING", string(buf[:4]))
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	a, b := socketpair(t)
	defer syscall.Close(b)

	var closes int
	c := &Connection{fd: a, closeFn: func() error {
		closes++
		return syscall.Close(a)
	}}
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, closes)
}
