package mselector

import "errors"

// Standard errors returned by this package.
var (
	// ErrSelectorClosed is returned by Submit and related calls once the
	// selector has finished (or started) its stop sequence.
	ErrSelectorClosed = errors.New("mselector: selector closed")

	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("mselector: already started")

	// ErrNotStarted is returned by operations that require a running loop.
	ErrNotStarted = errors.New("mselector: not started")

	// ErrRejected names an Executor's rejection of a dispatched task. No
	// function in this package returns it: rejections are logged and the
	// task's resources released in place (see dispatchOrClose).
	ErrRejected = errors.New("mselector: executor rejected task")

	// ErrConnectTimeout is the cause attached to a Connect record's failure
	// path when the scheduler's timeout task wins the race against
	// completion.
	ErrConnectTimeout = errors.New("mselector: connect timed out")

	// ErrConnectFailed is the cause attached to a Connect record's failure
	// path when the OS reports a connect error before the timeout fires.
	ErrConnectFailed = errors.New("mselector: connect failed")

	// ErrDumpTimeout is returned by Dump when the loop does not process the
	// DumpKeys update within the configured stop/dump timeout.
	ErrDumpTimeout = errors.New("mselector: dump timed out waiting for loop")

	// ErrInvalidKey marks a SelectionKey that the OS primitive has
	// invalidated (cancelled-key class of error in spec.md §7).
	ErrInvalidKey = errors.New("mselector: selection key invalid")
)
