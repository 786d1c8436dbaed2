//go:build linux

package mselector

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller implements poller on Linux via epoll, grounded on
// joeycumines-go-utilpkg/eventloop/poller_linux.go's epoll_create1/
// epoll_ctl/epoll_wait shape, adapted to this package's Key-carrying
// interest model instead of a direct-indexed fd array.
type epollPoller struct {
	epfd int

	mu   sync.Mutex
	keys map[int]*Key

	wakeFD int // eventfd used for Wake()
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{
		epfd:   epfd,
		keys:   make(map[int]*Key),
		wakeFD: wakeFD,
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, ev); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *epollPoller) Add(fd int, interest IOEvent, key *Key) error {
	p.mu.Lock()
	p.keys[fd] = key
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.keys, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) Modify(fd int, interest IOEvent) error {
	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Del(fd int) error {
	p.mu.Lock()
	delete(p.keys, fd)
	p.mu.Unlock()
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(dst []pollEvent, timeoutMillis int) ([]pollEvent, error) {
	var buf [maxPollEvents]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, buf[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		p.mu.Lock()
		key := p.keys[fd]
		p.mu.Unlock()
		if key == nil {
			continue
		}
		dst = append(dst, pollEvent{fd: fd, ev: fromEpoll(buf[i].Events), key: key})
	}
	return dst, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	one := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, err := unix.Write(p.wakeFD, one[:])
	if err == unix.EAGAIN {
		// counter already non-zero; a pending wake is enough.
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	_ = unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}

// closeRawFD releases a raw descriptor the core transiently owns (an
// in-flight Accept/Connect record whose endpoint was never constructed,
// e.g. on executor rejection), independent of the poller's own
// interest-set bookkeeping.
func closeRawFD(fd int) error {
	return unix.Close(fd)
}

func toEpoll(interest IOEvent) uint32 {
	var e uint32
	if interest&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if interest&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) IOEvent {
	var ev IOEvent
	if e&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	return ev
}
