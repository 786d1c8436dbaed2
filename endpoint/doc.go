// Package endpoint is the reference byte-stream Endpoint/Connection pair
// standing in for the "concrete protocol handlers" mselector's spec keeps
// explicitly out of scope (spec.md §1 Non-goals). It exists only to give
// the core something real to dispatch to in tests and the demo binary:
// hand whatever bytes arrive to a handler, and flush whatever bytes are queued to
// send, nothing more. No framing, no application-level flow control.
//
// The read/write EAGAIN-retry-loop shape is grounded on the teacher's
// tryRead/tryWrite helpers (watcher.go). Two platform variants exist behind
// build tags: connection.go (syscall.Read/Write, Unix-family fds) and
// connection_windows.go (windows.Recv/Send, SOCKET handles).
package endpoint
