// Package dispatch schedules configuration pushes onto a bounded worker
// pool and tracks per-device outcome.
//
// The dispatcher accepts batches of (device, payload) jobs, runs each job
// through a device session, publishes one status event per job transition,
// and hands every terminal record to the status sink exactly once, in
// transition order.
//
// Key behaviors:
//   - At most pool_size jobs run concurrently across the instance
//   - FIFO start order within a batch, round-robin fairness across batches
//   - Abort purges queued jobs immediately and cancels in-flight sessions
//     cooperatively; it never waits for a session to actually stop
//   - A job failure never affects sibling jobs; retries, if any, live in
//     the session implementation
//   - Submit, Abort and Status operate on dispatcher bookkeeping only and
//     never wait behind a worker doing network I/O
//
// Status mapping from session errors:
//   - nil error → succeeded, detail carries captured device output
//   - cancelled kind → aborted
//   - transport/command kind → failed, detail carries the error text
//
// Illegal status transitions panic: they indicate a dispatcher bug, never
// an expected runtime condition.
package dispatch
