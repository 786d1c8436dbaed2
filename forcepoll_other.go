//go:build !windows

package mselector

// forceSelectNowDefault is false on epoll/kqueue platforms per spec.md §6:
// a zero-event wait there reliably means nothing is ready.
const forceSelectNowDefault = false
