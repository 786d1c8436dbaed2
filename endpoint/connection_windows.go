//go:build windows

package endpoint

import (
	"errors"
	"io"
	"sync"

	"github.com/corenet/mselector"
	"golang.org/x/sys/windows"
)

// ErrClosed is returned by Connection methods once Close has run.
var ErrClosed = errors.New("endpoint: connection closed")

// DataHandler is invoked with each chunk of bytes read from the peer and the
// Connection that read them; see connection.go's DataHandler doc.
type DataHandler func(c *Connection, data []byte)

// Connection is the Windows analogue of the Unix-family Connection in
// connection.go: same shape, but reading/writing through windows.Recv and
// windows.Send on the raw SOCKET handle instead of syscall.Read/Write on a
// Unix fd, since WSAPoll's readiness primitive hands back SOCKET handles
// rather than POSIX file descriptors.
type Connection struct {
	handle  windows.Handle
	handler DataHandler
	sel     *mselector.ManagedSelector

	mu      sync.Mutex
	out     []byte
	closed  bool
	closeFn func() error
}

// NewConnection wraps handle as a Selectable; see connection.go's
// NewConnection for parameter semantics.
func NewConnection(sel *mselector.ManagedSelector, handle windows.Handle, handler DataHandler, closeFn func() error) *Connection {
	return &Connection{sel: sel, handle: handle, handler: handler, closeFn: closeFn}
}

func (c *Connection) Write(key *mselector.Key, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.out = append(c.out, data...)
	c.mu.Unlock()

	return c.sel.SubmitFunc(func() {
		_ = key.SetInterest(key.Interest() | mselector.EventWrite)
	})
}

// QueueEcho appends data to the outbound buffer directly; see connection.go's
// QueueEcho doc — same loop-goroutine-only constraint applies here.
func (c *Connection) QueueEcho(data []byte) {
	c.mu.Lock()
	if !c.closed {
		c.out = append(c.out, data...)
	}
	c.mu.Unlock()
}

func (c *Connection) OnSelected(key *mselector.Key) mselector.Runnable {
	ready := key.ReadyOps()
	if ready&mselector.EventHangup != 0 || ready&mselector.EventError != 0 {
		return func() { c.Close() }
	}

	var readEOF bool
	var buf [4096]byte
	if ready&mselector.EventRead != 0 {
		readEOF = c.drainRead(buf[:])
	}
	if ready&mselector.EventWrite != 0 {
		c.drainWrite()
	}
	if readEOF {
		return func() { c.Close() }
	}
	return nil
}

func (c *Connection) UpdateKey(key *mselector.Key) {
	c.mu.Lock()
	closed := c.closed
	pending := len(c.out) > 0
	c.mu.Unlock()

	if closed {
		return
	}
	ops := mselector.EventRead
	if pending {
		ops |= mselector.EventWrite
	}
	_ = key.SetInterest(ops)
}

func (c *Connection) drainRead(buf []byte) (eof bool) {
	for {
		n, err := windows.Recv(c.handle, buf, 0)
		if err == windows.WSAEWOULDBLOCK {
			return false
		}
		if n > 0 {
			if c.handler != nil {
				c.handler(c, buf[:n])
			}
		}
		if err != nil {
			return true
		}
		if n == 0 {
			return true
		}
	}
}

func (c *Connection) drainWrite() {
	for {
		c.mu.Lock()
		if len(c.out) == 0 {
			c.mu.Unlock()
			return
		}
		out := c.out
		c.mu.Unlock()

		n, err := windows.Send(c.handle, out, 0)
		if n > 0 {
			c.mu.Lock()
			c.out = c.out[n:]
			c.mu.Unlock()
		}
		if err == windows.WSAEWOULDBLOCK {
			return
		}
		if err != nil {
			return
		}
	}
}

// CloseConnection implements the CloseConnections shutdown contract
// (spec.md §4.6).
func (c *Connection) CloseConnection() error {
	return c.Close()
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

var _ io.Closer = (*Connection)(nil)
