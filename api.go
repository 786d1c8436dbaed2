package mselector

// RegisterAcceptor arms fd with accept interest; every ready pass drains
// accept() until it reports nothing left, handing each accepted descriptor to
// manager.Accepted (spec.md §4.5). Safe to call from any goroutine.
func (sel *ManagedSelector) RegisterAcceptor(fd int, accept func() (childFD int, err error)) error {
	return sel.Submit(&acceptorUpdate{fd: fd, accept: accept})
}

// Accept hands in a descriptor obtained outside this shard's own Acceptor
// (typically: another shard's manager.Accepted handed it here across the
// hash boundary). It is registered with zero interest and manager.OnAccepted
// is dispatched through the executor (spec.md §4.5).
func (sel *ManagedSelector) Accept(fd int, attachment any) error {
	return sel.Submit(&acceptUpdate{fd: fd, attachment: attachment})
}

// Connect registers fd (already mid non-blocking connect) for write-ready
// notification and arms a timeout task. finishConnect reports whether the
// connect actually completed when the key becomes ready; newEndpoint builds
// the Selectable to hand to manager.ConnectionOpened on success (spec.md
// §4.4).
func (sel *ManagedSelector) Connect(
	fd int,
	attachment any,
	finishConnect func(fd int) (bool, error),
	newEndpoint func(fd int, attachment any) (Selectable, error),
) error {
	rec := &connectRecord{
		fd:            fd,
		attachment:    attachment,
		finishConnect: finishConnect,
		newEndpoint:   newEndpoint,
	}
	return sel.Submit(&connectUpdate{fd: fd, attachment: attachment, rec: rec})
}

// Activate swaps fd's key attachment to ep and lets ep compute its initial
// interest set, completing the handoff from a raw accepted/connected
// descriptor to a live Selectable. Runs on the loop goroutine (spec.md §3's
// key-mutation invariant), so it is safe to call from any goroutine.
func (sel *ManagedSelector) Activate(fd int, ep Selectable) error {
	return sel.SubmitFunc(func() {
		sel.keysMu.RLock()
		key := sel.keys[fd]
		sel.keysMu.RUnlock()
		if key == nil || !key.IsValid() {
			return
		}
		key.attachment = ep
		ep.UpdateKey(key)
	})
}
