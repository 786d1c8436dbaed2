package mselector

import "sync"

// updateQueue is the sole cross-thread channel into the selector (spec.md
// §4.1). Submit performs, atomically under mu: append to active, and if
// selecting was true, clear it and report that a wakeup is owed. The loop
// goroutine swaps active/draining under the same lock so it never holds mu
// while running updates.
type updateQueue struct {
	mu        sync.Mutex
	active    []update
	draining  []update
	selecting bool
}

// submit appends u to the active buffer. It reports whether the caller must
// issue exactly one poller wakeup — true iff the loop was (or was about to
// be) blocked in the OS wait, and this call is the one that cleared that
// flag. Concurrent submitters coalesce: only the first to observe
// selecting=true performs the clear-and-report.
func (q *updateQueue) submit(u update) (needsWakeup bool) {
	q.mu.Lock()
	q.active = append(q.active, u)
	if q.selecting {
		q.selecting = false
		needsWakeup = true
	}
	q.mu.Unlock()
	return needsWakeup
}

// beginSelecting is called by the loop goroutine immediately before it is
// about to enter the OS wait. It reports false (and leaves selecting
// unset) if an update already arrived concurrently, so the loop can skip
// blocking and drain again instead — this is how phase (b)'s self-wakeup
// path is avoided when nothing new has shown up.
func (q *updateQueue) beginSelecting() (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.active) > 0 {
		return false
	}
	q.selecting = true
	return true
}

// endSelecting clears selecting unconditionally; called by the loop
// goroutine on every wake, whether from readiness or from an update wakeup.
func (q *updateQueue) endSelecting() {
	q.mu.Lock()
	q.selecting = false
	q.mu.Unlock()
}

// drain swaps active and draining under the lock (O(1)) and returns the
// drained slice for the loop to iterate without holding the lock. The
// returned slice's backing array is reused as the next active buffer once
// the caller is done with it — call recycle(drained) after iterating.
func (q *updateQueue) drain() []update {
	q.mu.Lock()
	q.active, q.draining = q.draining, q.active
	drained := q.draining
	q.draining = nil
	q.mu.Unlock()
	return drained
}

// recycle returns a drained buffer's backing array for reuse, truncated to
// zero length, avoiding an allocation on the next drain.
func (q *updateQueue) recycle(drained []update) {
	q.mu.Lock()
	if q.draining == nil {
		q.draining = drained[:0]
	}
	q.mu.Unlock()
}
