// Package mselector is the event-loop core of a non-blocking network I/O
// runtime: a managed selector that multiplexes readiness events for many
// network channels onto a small number of worker goroutines.
//
// It wraps a platform readiness primitive (epoll on Linux, kqueue on
// Darwin/BSD, an IOCP-poll emulation on Windows) and turns its raw
// interest/readiness model into a disciplined, thread-safe dispatch service
// that application-level endpoints plug into.
//
// A ManagedSelector is single-threaded at its critical point: one goroutine
// (the producer) owns the OS readiness handle and the per-key interest sets.
// Everything else — submitting updates, waking the producer, executing the
// work a ready key produces — is safe to call from any goroutine.
//
// This package does not implement protocol framing, byte-buffer pooling, a
// thread-pool executor, or connection factories; it names the interfaces it
// needs from those collaborators (Executor, Scheduler, Selectable) and lets
// callers supply concrete implementations. See packages executor, scheduler,
// manager, and endpoint for reference implementations of those contracts.
package mselector
