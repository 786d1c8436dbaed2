//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package mselector

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements poller on Darwin/BSD via kqueue, grounded on
// joeycumines-go-utilpkg/eventloop/poller_darwin.go's Kqueue/Kevent_t usage,
// using a dedicated EVFILT_USER event (rather than a pipe) as the Wake
// primitive — the idiomatic kqueue analogue of Linux's eventfd.
type kqueuePoller struct {
	kq int

	mu   sync.Mutex
	keys map[int]*Key
}

const wakeIdent = 0

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	p := &kqueuePoller{kq: kq, keys: make(map[int]*Key)}

	register := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{register}, nil, nil); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	return p, nil
}

func (p *kqueuePoller) Add(fd int, interest IOEvent, key *Key) error {
	p.mu.Lock()
	p.keys[fd] = key
	p.mu.Unlock()

	changes := interestChanges(fd, 0, interest)
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil {
		p.mu.Lock()
		delete(p.keys, fd)
		p.mu.Unlock()
	}
	return err
}

func (p *kqueuePoller) Modify(fd int, interest IOEvent) error {
	// kqueue has no direct "replace interest" op; toggle both filters based
	// on the new mask, deleting whichever isn't wanted (harmless if absent).
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flagFor(interest&EventRead != 0)},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flagFor(interest&EventWrite != 0)},
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Del(fd int) error {
	p.mu.Lock()
	delete(p.keys, fd)
	p.mu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Errors here are expected (ENOENT) when only one filter was armed.
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) Wait(dst []pollEvent, timeoutMillis int) ([]pollEvent, error) {
	var buf [maxPollEvents]unix.Kevent_t
	var ts *unix.Timespec
	if timeoutMillis >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMillis) * int64(1e6))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, buf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	for i := 0; i < n; i++ {
		ev := buf[i]
		if ev.Filter == unix.EVFILT_USER && ev.Ident == wakeIdent {
			continue // Wake(); nothing further to do, loop observes it via return
		}
		fd := int(ev.Ident)
		p.mu.Lock()
		key := p.keys[fd]
		p.mu.Unlock()
		if key == nil {
			continue
		}
		mask := IOEvent(0)
		switch ev.Filter {
		case unix.EVFILT_READ:
			mask |= EventRead
		case unix.EVFILT_WRITE:
			mask |= EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			mask |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			mask |= EventError
		}
		dst = append(dst, pollEvent{fd: fd, ev: mask, key: key})
	}
	return dst, nil
}

func (p *kqueuePoller) Wake() error {
	trigger := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{trigger}, nil, nil)
	return err
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}

// closeRawFD releases a raw descriptor the core transiently owns (an
// in-flight Accept/Connect record whose endpoint was never constructed,
// e.g. on executor rejection), independent of the poller's own
// interest-set bookkeeping.
func closeRawFD(fd int) error {
	return unix.Close(fd)
}

func flagFor(want bool) uint16 {
	if want {
		return unix.EV_ADD
	}
	return unix.EV_DELETE
}

func interestChanges(fd int, from, to IOEvent) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if to&EventRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	}
	if to&EventWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	}
	return changes
}
