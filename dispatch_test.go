package mselector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type rejectingExecutor struct{}

func (rejectingExecutor) Execute(Runnable) error { return errors.New("saturated") }

type closeTrackingAttachment struct {
	closed bool
}

func (c *closeTrackingAttachment) Close() error {
	c.closed = true
	return nil
}

// TestDispatchOrCloseReleasesOnRejection covers invariant 6 (no leak on
// reject, spec.md §8): when the executor rejects a dispatched task whose
// attachment owns a resource, that resource must still be closed.
func TestDispatchOrCloseReleasesOnRejection(t *testing.T) {
	sel := newTestSelector(&recordingHooks{})
	sel.exec = rejectingExecutor{}

	att := &closeTrackingAttachment{}
	ranInline := false
	sel.dispatchOrClose(Runnable(func() { ranInline = true }), att)

	require.True(t, att.closed, "a rejected task's Closeable attachment must be closed")
	require.False(t, ranInline, "a rejected task with a Closeable attachment is released, not run inline")
}

// TestDispatchOrCloseIgnoresNonCloseableAttachment confirms rejection is
// still silent (logged, not fatal) when the attachment has nothing to
// release.
func TestDispatchOrCloseIgnoresNonCloseableAttachment(t *testing.T) {
	sel := newTestSelector(&recordingHooks{})
	sel.exec = rejectingExecutor{}

	require.NotPanics(t, func() {
		sel.dispatchOrClose(Runnable(func() {}), "not a closeable")
	})
}

// TestDispatchOrCloseFDReleasesDescriptorEvenWithNilAttachment covers the
// Accept/Connect wiring's real shape (spec.md §8 invariant 6): the
// reference manager passes a nil attachment to these paths, so a rejected
// dispatch must still release the raw descriptor and its key/poller
// registration rather than depending on a Closeable attachment that isn't
// there in practice.
func TestDispatchOrCloseFDReleasesDescriptorEvenWithNilAttachment(t *testing.T) {
	sel := newTestSelector(&recordingHooks{})
	sel.exec = rejectingExecutor{}

	const fd = 123456 // never a real descriptor; only the bookkeeping matters here
	key := newKey(sel, fd, nil)
	sel.trackKey(key)

	ranInline := false
	sel.dispatchOrCloseFD(Runnable(func() { ranInline = true }), fd, nil)

	require.False(t, ranInline)
	require.Equal(t, 0, sel.Size(), "a rejected Accept/Connect dispatch must untrack its key")
}
