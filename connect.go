package mselector

import "sync/atomic"

// connectRecord tracks one in-flight non-blocking connect (spec.md §4.4).
// failed guards at-most-once failure dispatch between the loop's success
// path and the scheduler's timeout callback; whichever side wins the CAS
// owns reporting the outcome, the other is a no-op.
type connectRecord struct {
	fd         int
	attachment any
	selector   *ManagedSelector

	timeoutTask Cancellable
	failed      atomic.Bool

	// finishConnect reports whether the OS-level connect actually
	// completed (manager.doFinishConnect), and newEndpoint builds the
	// Selectable on success — both passed in as arguments to Connect.
	finishConnect func(fd int) (bool, error)
	newEndpoint   func(fd int, attachment any) (Selectable, error)
}

// finishConnect is called from the loop goroutine when the key reports
// connect-readiness (success path of the race in spec.md §4.4).
func (sel *ManagedSelector) finishConnect(rec *connectRecord, ev IOEvent) {
	if ev&EventError != 0 {
		sel.claimConnectOutcome(rec, func() { sel.finishConnectFailed(rec, ErrConnectFailed) })
		return
	}

	ok, err := rec.finishConnect(rec.fd)
	if err != nil {
		sel.claimConnectOutcome(rec, func() { sel.finishConnectFailed(rec, err) })
		return
	}
	if !ok {
		// Not actually finished yet; leave interest armed and keep waiting.
		return
	}

	sel.claimConnectOutcome(rec, func() { sel.dispatchCreateEndpoint(rec) })
}

// connectTimedOut is invoked by the scheduler on the timeout side of the
// race (spec.md §4.4). It reports failure only if it wins the failed CAS,
// so it is a no-op once a loop-side outcome has claimed the record. It does
// not ask the OS whether the connect is still pending on the descriptor.
func (sel *ManagedSelector) connectTimedOut(rec *connectRecord) {
	if !rec.failed.CompareAndSwap(false, true) {
		return // completion already won
	}
	sel.finishConnectFailed(rec, ErrConnectTimeout)
}

// claimConnectOutcome is the single race guard shared by every loop-side
// outcome of finishConnect — success and both failure branches alike — so
// none of them can win the failed CAS after the scheduler's connectTimedOut
// already has (spec.md §7/§8 invariant 4: Connect completes exactly once).
// It cancels the armed timeout task first (best-effort; harmless if it has
// already fired or there is none), then claims the record via the same CAS
// connectTimedOut uses, running onClaimed only if this call won the race.
func (sel *ManagedSelector) claimConnectOutcome(rec *connectRecord, onClaimed func()) {
	if rec.timeoutTask != nil && !rec.timeoutTask.Cancel() {
		// Timer already fired; the timeout side will (or already did) win
		// the CAS below. Do not also report an outcome.
		return
	}
	if !rec.failed.CompareAndSwap(false, true) {
		// Timeout already claimed this record.
		return
	}
	onClaimed()
}

// finishConnectFailed closes the channel and reports the failure to the
// manager, exactly once (every call site is guarded by the failed CAS,
// either directly in connectTimedOut or via claimConnectOutcome).
func (sel *ManagedSelector) finishConnectFailed(rec *connectRecord, cause error) {
	sel.manager.ConnectionFailed(rec.fd, cause, rec.attachment)
	_ = sel.poll.Del(rec.fd)
	sel.untrackKey(rec.fd)
	if err := closeRawFD(rec.fd); err != nil {
		sel.log.Warn().Err(err).Int("fd", rec.fd).Msg("close failed connect descriptor")
	}
}

// dispatchCreateEndpoint builds the endpoint via the executor, not inline,
// since endpoint construction may allocate and call application code which
// must not block the loop goroutine (spec.md §4.4). If the executor rejects
// the dispatch, the raw descriptor is closed directly rather than relying on
// rec.attachment implementing Closeable — the reference wiring passes a nil
// attachment here, so that contract alone would leak the fd (spec.md §8
// invariant 6).
func (sel *ManagedSelector) dispatchCreateEndpoint(rec *connectRecord) {
	task := Runnable(func() {
		ep, err := rec.newEndpoint(rec.fd, rec.attachment)
		if err != nil {
			sel.manager.ConnectionFailed(rec.fd, err, rec.attachment)
			return
		}
		_ = sel.Activate(rec.fd, ep)
		sel.manager.EndPointOpened(ep)
		sel.manager.ConnectionOpened(ep)
	})
	sel.dispatchOrCloseFD(task, rec.fd, rec.attachment)
}
