//go:build windows

package mselector

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var errNotSyscallConn = errors.New("mselector: conn does not expose a raw socket handle")

// wsaPollFD mirrors the WSAPOLLFD struct from winsock2.h.
type wsaPollFD struct {
	fd      windows.Handle
	events  int16
	revents int16
}

const (
	pollRDNORM = 0x0100
	pollWRNORM = 0x0010
	pollERR    = 0x0001
	pollHUP    = 0x0002
)

var (
	ws2_32    = windows.NewLazySystemDLL("ws2_32.dll")
	wsaPollProc = ws2_32.NewProc("WSAPoll")
)

func wsaPoll(fds []wsaPollFD, timeoutMillis int32) (int, error) {
	if len(fds) == 0 {
		return 0, nil
	}
	r, _, err := wsaPollProc.Call(
		uintptr(unsafe.Pointer(&fds[0])),
		uintptr(uint32(len(fds))),
		uintptr(timeoutMillis),
	)
	n := int(int32(r))
	if n == -1 {
		return 0, err
	}
	return n, nil
}

// windowsPoller emulates this package's poller contract on top of WSAPoll,
// the Winsock2 analogue of poll(2). Windows' native completion-port model
// (IOCP) is overlapped-I/O shaped, not readiness shaped, so — like the
// teacher's platform-quirk handling — this package follows spec.md §4.2(c)'s
// documented fallback: a zero-event wait is topped up with an immediate
// non-blocking re-poll (forceSelectNow) to guarantee forward progress,
// grounded on joeycumines-go-utilpkg/eventloop/poller_windows.go's IOCP
// plumbing for the wake-socket idea, adapted to WSAPoll's simpler model.
type windowsPoller struct {
	mu   sync.Mutex
	keys map[windows.Handle]*Key

	wakeRead, wakeWrite windows.Handle
	// wakeReadConn/wakeWriteConn keep the loopback pair's net.Conn alive —
	// they own the same underlying SOCKET as wakeRead/wakeWrite, and must
	// not be garbage-collected out from under us.
	wakeReadConn, wakeWriteConn net.Conn
}

func newPoller() (poller, error) {
	server, client, err := makeWakeSocketPair()
	if err != nil {
		return nil, err
	}
	r, err := socketHandle(server)
	if err != nil {
		server.Close()
		client.Close()
		return nil, err
	}
	w, err := socketHandle(client)
	if err != nil {
		server.Close()
		client.Close()
		return nil, err
	}
	return &windowsPoller{
		keys:         make(map[windows.Handle]*Key),
		wakeRead:     r,
		wakeWrite:    w,
		wakeReadConn: server,
		wakeWriteConn: client,
	}, nil
}

func (p *windowsPoller) Add(fd int, interest IOEvent, key *Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[windows.Handle(fd)] = key
	return nil
}

func (p *windowsPoller) Modify(fd int, interest IOEvent) error {
	// Interest is recomputed per-Wait from the key's own state (see
	// Wait below), so there is nothing to push down eagerly.
	return nil
}

func (p *windowsPoller) Del(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, windows.Handle(fd))
	return nil
}

func (p *windowsPoller) Wait(dst []pollEvent, timeoutMillis int) ([]pollEvent, error) {
	p.mu.Lock()
	fds := make([]wsaPollFD, 0, len(p.keys)+1)
	handles := make([]*Key, 0, len(p.keys))
	for h, k := range p.keys {
		var events int16
		if k.interest&EventRead != 0 {
			events |= pollRDNORM
		}
		if k.interest&EventWrite != 0 {
			events |= pollWRNORM
		}
		fds = append(fds, wsaPollFD{fd: h, events: events})
		handles = append(handles, k)
	}
	fds = append(fds, wsaPollFD{fd: p.wakeRead, events: pollRDNORM})
	p.mu.Unlock()

	n, err := wsaPoll(fds, int32(timeoutMillis))
	if err != nil {
		return dst, err
	}
	if n == 0 {
		// spec.md §4.2(c): on a zero-event wait the caller (selectWait)
		// issues one immediate non-blocking re-poll when forceSelectNow is set.
		return dst, nil
	}

	for i, f := range fds {
		if f.revents == 0 {
			continue
		}
		if f.fd == p.wakeRead {
			drainWakeSocket(p.wakeReadConn)
			continue
		}
		var ev IOEvent
		if f.revents&pollRDNORM != 0 {
			ev |= EventRead
		}
		if f.revents&pollWRNORM != 0 {
			ev |= EventWrite
		}
		if f.revents&pollERR != 0 {
			ev |= EventError
		}
		if f.revents&pollHUP != 0 {
			ev |= EventHangup
		}
		dst = append(dst, pollEvent{fd: int(f.fd), ev: ev, key: handles[i]})
	}
	return dst, nil
}

func (p *windowsPoller) Wake() error {
	_, err := p.wakeWriteConn.Write([]byte{1})
	return err
}

func (p *windowsPoller) Close() error {
	_ = p.wakeReadConn.Close()
	_ = p.wakeWriteConn.Close()
	return nil
}

// closeRawFD releases a raw socket handle the core transiently owns (an
// in-flight Accept/Connect record whose endpoint was never constructed,
// e.g. on executor rejection), independent of the poller's own
// interest-set bookkeeping.
func closeRawFD(fd int) error {
	return windows.Closesocket(windows.Handle(fd))
}

func drainWakeSocket(c net.Conn) {
	buf := make([]byte, 64)
	_ = c.SetReadDeadline(time.Now())
	for {
		n, err := c.Read(buf)
		if err != nil || n <= 0 {
			return
		}
	}
}

// makeWakeSocketPair opens a loopback TCP pair used purely to give WSAPoll
// something to wake on; Windows has no eventfd/EVFILT_USER equivalent for
// arbitrary wakeup without an overlapped I/O completion port. The pair is
// built through the standard net package (rather than raw Winsock calls) and
// then unwrapped to its underlying SOCKET handle, since net.Listen/net.Dial
// already handle the loopback-bind/accept dance correctly on every Windows
// version.
func makeWakeSocketPair() (server, client net.Conn, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptedCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return nil, nil, err
	}

	select {
	case server = <-acceptedCh:
	case err := <-acceptErrCh:
		client.Close()
		return nil, nil, err
	}
	return server, client, nil
}

// socketHandle extracts the raw SOCKET handle backing a net.Conn.
func socketHandle(c net.Conn) (windows.Handle, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, errNotSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var h windows.Handle
	ctrlErr := raw.Control(func(fd uintptr) {
		h = windows.Handle(fd)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return h, nil
}
