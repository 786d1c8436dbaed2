package mselector

// IOEvent is the platform-neutral readiness/interest bitmask. Platform
// poller files translate to/from the OS-native flags (EPOLLIN/EPOLLOUT,
// kqueue EVFILT_READ/WRITE, or the IOCP-poll emulation's own bits).
type IOEvent uint32

const (
	EventRead IOEvent = 1 << iota
	EventWrite
	EventError
	EventHangup
	EventAccept = EventRead // accept readiness is reported as read-readiness
)

// maxPollEvents bounds the batch size of a single OS wait call.
const maxPollEvents = 256

// pollEvent is one readiness notification returned by a poller's Wait.
type pollEvent struct {
	fd  int
	ev  IOEvent
	key *Key
}

// poller is the platform readiness multiplexer contract. Exactly one
// implementation is compiled in per-platform via build tags:
// poller_linux.go (epoll), poller_kqueue.go (kqueue), poller_windows.go
// (IOCP-poll emulation).
//
// Ownership: besides Wake, every method is called only from the loop
// goroutine (spec.md §3's selectorHandle invariant).
type poller interface {
	// Add registers fd for the given interest set, associating it with key
	// so Wait can report it back without a map lookup.
	Add(fd int, interest IOEvent, key *Key) error
	// Modify changes fd's interest set.
	Modify(fd int, interest IOEvent) error
	// Del removes fd from the multiplexer. Safe to call even if fd was
	// never added (no-op).
	Del(fd int) error
	// Wait blocks up to timeoutMillis (negative: forever, zero: non-blocking)
	// for readiness and appends ready events to dst, returning the extended
	// slice.
	Wait(dst []pollEvent, timeoutMillis int) ([]pollEvent, error)
	// Wake unblocks a concurrent Wait exactly once. Safe to call from any
	// goroutine, concurrently with Wait and with itself.
	Wake() error
	// Close releases the OS handle. Not safe to call concurrently with Wait.
	Close() error
}

// newPoller constructs the platform poller. Defined per-platform file.
