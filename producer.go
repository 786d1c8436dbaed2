package mselector

import (
	"io"
)

// selectorProducer pumps the loop: drain updates -> wait -> process ready
// keys -> yield next runnable (spec.md §4.2). One instance per
// ManagedSelector; produce is called repeatedly by the bound
// executionStrategy, never concurrently with itself (invariant 1, §8).
type selectorProducer struct {
	sel *ManagedSelector

	ready  []pollEvent
	cursor int
}

// produce runs phases (a)/(b)/(c) in order until one yields a Runnable, or
// until the selector has stopped and there is nothing left to do, in which
// case it returns (nil, false).
func (p *selectorProducer) produce() (Runnable, bool) {
	for {
		if r, ok := p.processSelected(); ok {
			return r, true
		}

		if !p.sel.running() {
			return nil, false
		}

		p.processUpdates()

		if !p.sel.running() {
			return nil, false
		}

		if err := p.selectWait(); err != nil {
			p.sel.onSelectFailed(err)
			return nil, false
		}
	}
}

// processSelected implements phase (a): walk the cursor over the current
// ready set, dispatching each valid key. Returns as soon as one key yields a
// runnable; the cursor position is preserved so the next call resumes after
// it.
func (p *selectorProducer) processSelected() (Runnable, bool) {
	for p.cursor < len(p.ready) {
		ev := p.ready[p.cursor]
		p.cursor++

		key := ev.key
		if key == nil || !key.IsValid() {
			continue
		}

		switch att := key.attachment.(type) {
		case *acceptorUpdate:
			att.drainAccepts(p.sel)
		case *connectRecord:
			p.sel.finishConnect(att, ev.ev)
		case Selectable:
			key.ready = ev.ev
			if r := att.OnSelected(key); r != nil {
				return r, true
			}
		default:
			p.sel.closeInvalidAttachment(key)
		}
	}
	// The whole batch has been dispatched: give each still-valid Selectable
	// in it exactly one UpdateKey call (spec.md §4.7).
	updated := make(map[*Key]bool, len(p.ready))
	for _, ev := range p.ready {
		key := ev.key
		if key == nil || !key.IsValid() || updated[key] {
			continue
		}
		if att, ok := key.attachment.(Selectable); ok {
			updated[key] = true
			att.UpdateKey(key)
		}
	}
	p.ready = p.ready[:0]
	p.cursor = 0
	return nil, false
}

// processUpdates implements phase (b): swap buffers and apply each drained
// update outside the lock (errors are logged, never fatal to the loop). The
// choice between blocking in the OS wait and a non-blocking poll is made
// afterwards by selectWait, via beginSelecting.
func (p *selectorProducer) processUpdates() {
	drained := p.sel.updates.drain()
	for _, u := range drained {
		p.applyOne(u)
	}
	p.sel.updates.recycle(drained)
}

func (p *selectorProducer) applyOne(u update) {
	defer func() {
		if r := recover(); r != nil {
			p.sel.logUpdatePanic(r)
		}
	}()
	u.apply(p.sel)
}

// selectWait implements phase (c): block in the OS wait, or skip blocking
// if an update already arrived since the last drain. On wake, clear
// selecting and capture the ready set.
func (p *selectorProducer) selectWait() error {
	timeout := -1
	if !p.sel.updates.beginSelecting() {
		timeout = 0 // self-wakeup: something arrived, don't block
	}

	events, err := p.sel.poll.Wait(p.ready[:0], timeout)
	p.sel.updates.endSelecting()
	if err != nil {
		return err
	}

	p.ready = events
	p.cursor = 0

	if len(p.ready) == 0 && p.sel.forceSelectNow {
		events, err = p.sel.poll.Wait(p.ready[:0], 0)
		if err != nil {
			return err
		}
		p.ready = events
	}

	if len(p.ready) == 0 && p.sel.interruptedStopping() {
		return ErrSelectorClosed
	}
	return nil
}

// closeInvalidAttachment defensively closes a key whose attachment is
// neither a Selectable, a connect record, nor an acceptor — this is a bug
// per spec.md §4.2(a), so the key is closed rather than left dangling.
func (sel *ManagedSelector) closeInvalidAttachment(key *Key) {
	sel.logBadAttachment(key)
	if closer, ok := key.attachment.(io.Closer); ok {
		_ = closer.Close()
	}
	_ = sel.poll.Del(key.fd)
	key.valid.Store(false)
	sel.untrackKey(key.fd)
}
