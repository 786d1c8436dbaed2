package mselector

import "sync/atomic"

// Key is the binding between a channel (its fd) and the selector, carrying
// the current interest/readiness bitmask and an opaque attachment. It is the
// Go analogue of spec.md's SelectionKey.
//
// Interest is mutated only from the loop goroutine (spec.md §3). Valid is
// cleared once the key has been cancelled/closed so concurrent readers (e.g.
// a Dump in progress) don't observe a half-torn-down key.
type Key struct {
	fd       int
	interest IOEvent
	ready    IOEvent
	valid    atomic.Bool

	sel *ManagedSelector

	// attachment is either a Selectable or a *connectRecord. Only the loop
	// goroutine reads or writes it.
	attachment any
}

// FD returns the file descriptor this key is bound to.
func (k *Key) FD() int { return k.fd }

// Attachment returns the endpoint or connect record bound to this key.
func (k *Key) Attachment() any { return k.attachment }

// IsValid reports whether the key is still registered with the selector.
func (k *Key) IsValid() bool { return k.valid.Load() }

// ReadyOps reports the readiness bitmask observed for this key during the
// select cycle that is currently dispatching it. Only meaningful from
// inside a Selectable.OnSelected call.
func (k *Key) ReadyOps() IOEvent { return k.ready }

// Interest reports the interest bitmask currently armed for this key.
func (k *Key) Interest() IOEvent { return k.interest }

// SetInterest re-arms the key's interest set. It is only called on the loop
// goroutine — from an endpoint's UpdateKey, or from an update submitted via
// SubmitFunc (as endpoint.Connection.Write does) — so no synchronization
// beyond the poller's own is needed.
func (k *Key) SetInterest(ops IOEvent) error {
	if !k.IsValid() {
		return ErrInvalidKey
	}
	if err := k.sel.poll.Modify(k.fd, ops); err != nil {
		return err
	}
	k.interest = ops
	return nil
}

func newKey(sel *ManagedSelector, fd int, attachment any) *Key {
	k := &Key{sel: sel, fd: fd, attachment: attachment}
	k.valid.Store(true)
	return k
}
