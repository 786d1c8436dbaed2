//go:build windows

package mselector

// forceSelectNowDefault is true on Windows-family OSes per spec.md §6: the
// WSAPoll-backed poller can return zero events without anything actually
// being ready, so a non-blocking re-poll follows immediately.
const forceSelectNowDefault = true
