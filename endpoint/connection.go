//go:build !windows

package endpoint

import (
	"errors"
	"io"
	"sync"
	"syscall"

	"github.com/corenet/mselector"
)

// ErrClosed is returned by Connection methods once Close has run.
var ErrClosed = errors.New("endpoint: connection closed")

// DataHandler is invoked with each chunk of bytes read from the peer and the
// Connection that read them, so a handler can queue a response via
// QueueEcho without needing the *mselector.Key the public Write API
// requires. Implementations must not block; Connection delivers whatever
// fits in the single read that produced it.
type DataHandler func(c *Connection, data []byte)

// Connection is a minimal byte-stream mselector.Selectable. It reads into a
// fixed buffer and hands complete reads to a DataHandler, and flushes a
// queued outbound byte buffer whenever the key is write-ready.
type Connection struct {
	fd      int
	handler DataHandler
	sel     *mselector.ManagedSelector

	mu      sync.Mutex
	out     []byte
	closed  bool
	closeFn func() error
}

// NewConnection wraps fd (already non-blocking) as a Selectable. closeFn is
// the platform close (e.g. syscall.Close or net.Conn.Close's underlying fd
// release); it is called at most once. sel is the shard this connection's
// key is (or will be) registered with, needed so Write can re-arm interest
// on the loop goroutine instead of from the caller's own goroutine.
func NewConnection(sel *mselector.ManagedSelector, fd int, handler DataHandler, closeFn func() error) *Connection {
	return &Connection{sel: sel, fd: fd, handler: handler, closeFn: closeFn}
}

// Write queues data for the next write-ready callback and arms write
// interest on key so OnSelected is invoked once the socket can accept it.
// Safe to call from any goroutine: the actual interest mutation is
// submitted to run on the loop goroutine, per mselector's key-ownership
// contract (spec.md §3).
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

// QueueEcho appends data to the outbound buffer directly, without the
// key-mutation handoff Write uses. Only safe to call from within a
// DataHandler invocation: those always run on the loop goroutine inside
// OnSelected, and the UpdateKey call that follows in the same select cycle
// picks up the pending output and arms write interest itself.
func (c *Connection) QueueEcho(data []byte) {
	c.mu.Lock()
	if !c.closed {
		c.out = append(c.out, data...)
	}
	c.mu.Unlock()
}

// OnSelected implements mselector.Selectable. It is invoked on the loop
// goroutine with the key's readiness for this cycle.
func (c *Connection) OnSelected(key *mselector.Key) mselector.Runnable {
	ready := key.ReadyOps()

	if ready&mselector.EventHangup != 0 || ready&mselector.EventError != 0 {
		return func() { c.Close() }
	}

	var readEOF bool
	var buf [4096]byte
	if ready&mselector.EventRead != 0 {
		_, readEOF = c.drainRead(buf[:])
	}
	if ready&mselector.EventWrite != 0 {
		c.drainWrite()
	}

	if readEOF {
		return func() { c.Close() }
	}
	// Reads and writes are handled entirely inline above — nothing for the
	// ExecutionStrategy to hand off for this endpoint.
	return nil
}

// UpdateKey implements mselector.Selectable: recompute interest after the
// cycle's processing. Read interest is always armed (unless closed);
// write interest is armed only while output is pending.
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

// drainRead loops syscall.Read until EAGAIN, EOF, or a hard error,
// delivering each non-empty read to the handler. Grounded on the teacher's
// tryRead EAGAIN-loop (watcher.go).
func (c *Connection) drainRead(buf []byte) (didRead, eof bool) {
	for {
		n, err := syscall.Read(c.fd, buf)
		if err == syscall.EAGAIN {
			return didRead, false
		}
		if err == syscall.EINTR {
			continue
		}
		if n > 0 {
			didRead = true
			if c.handler != nil {
				c.handler(c, buf[:n])
			}
		}
		if err != nil {
			return didRead, true
		}
		if n == 0 {
			return didRead, true
		}
	}
}

// drainWrite loops syscall.Write over the queued output buffer until
// EAGAIN or it's exhausted. Grounded on the teacher's tryWrite EAGAIN-loop.
func (c *Connection) drainWrite() (didWrite bool) {
	for {
		c.mu.Lock()
		if len(c.out) == 0 {
			c.mu.Unlock()
			return didWrite
		}
		out := c.out
		c.mu.Unlock()

		n, err := syscall.Write(c.fd, out)
		if n > 0 {
			didWrite = true
			c.mu.Lock()
			c.out = c.out[n:]
			c.mu.Unlock()
		}
		if err == syscall.EAGAIN {
			return didWrite
		}
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return didWrite
		}
	}
}

// CloseConnection implements the update.go closeOneConnection contract used
// by ManagedSelector's CloseConnections shutdown phase (spec.md §4.6).
func (c *Connection) CloseConnection() error {
	return c.Close()
}

// Close releases the underlying fd. Idempotent; safe from any goroutine.
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
