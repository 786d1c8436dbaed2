package mselector

import "time"

// Runnable is a unit of work produced by a ready key and handed to the
// ExecutionStrategy for execution. It carries exactly the state its creator
// closed over — there is no separate "task" struct, matching the teacher's
// preference for small closures over boilerplate types.
type Runnable func()

// Closeable is implemented by a Runnable's owner (or by the Runnable itself,
// via a wrapper) when it holds a channel or endpoint that must be released
// if the Executor rejects the task instead of running it. See spec.md §4.5
// and §7 ("No leak on reject").
type Closeable interface {
	Close() error
}

// Executor is the fire-and-forget work dispatcher this package requires.
// Implementations may reject a task (returning a non-nil error); the
// ExecutionStrategy is required to handle rejection without leaking the
// task's resources. See package executor for a default implementation.
type Executor interface {
	Execute(Runnable) error
}

// Cancellable is returned by Scheduler.Schedule. Cancel reports whether the
// cancellation happened before the task fired; false means the task either
// already ran or is currently running.
type Cancellable interface {
	Cancel() bool
}

// Scheduler is the monotonic timer source this package requires, used only
// for Connect timeouts. See package scheduler for a default implementation.
type Scheduler interface {
	Schedule(delay time.Duration, task Runnable) Cancellable
}

// Selectable is implemented by endpoints that want selector service.
//
// OnSelected is invoked by the loop goroutine when the key is ready. It
// should snapshot ready ops, mask interest to prevent re-entrant fires, and
// return a Runnable that performs the actual read/write — or nil if the
// endpoint fully handled the event inline.
//
// UpdateKey is invoked exactly once per select cycle, after the batch of
// ready keys has been processed, so the endpoint has a single place to
// recompute its interest set.
//
// OnSelected and UpdateKey for a given key never run concurrently with each
// other; both run on the loop goroutine. A Runnable returned by OnSelected
// may run concurrently with the *next* OnSelected call for the same key only
// if the endpoint re-arms interest before the Runnable completes — endpoints
// are expected to mask interest to avoid this unless they want it.
type Selectable interface {
	OnSelected(key *Key) Runnable
	UpdateKey(key *Key)
}
