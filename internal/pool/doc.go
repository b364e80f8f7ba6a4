// Package pool manages the library worker processes.
//
// # Overview
//
// Each configured library is served by at most one worker process. Workers
// are spawned lazily on the first call that needs them, reused for every
// later call to the same library, and reaped after sitting idle.
//
// # Protocol
//
// The pool speaks line-delimited JSON-RPC 2.0 over the worker's stdio:
//
//  1. A request is written to the worker's stdin as one line of JSON.
//  2. Responses are read from stdout line by line.
//  3. Lines that do not contain a JSON-RPC envelope are discarded, so a
//     worker that prints stray diagnostics on stdout does not wedge the
//     connection.
//
// Each worker handles one request at a time; concurrent calls to the same
// library queue on the worker's exchange lock. Calls to different libraries
// proceed in parallel.
//
// # Failure Handling
//
// When a worker exits mid-call, the pool reads the tail of the worker's
// stderr capture to find the real failure (a structured {"error": ...} line
// if present, otherwise the last line that is not startup noise) and wraps
// it in ErrWorkerExited. The dead worker is removed, so the next call spawns
// a fresh process.
//
// A call whose context expires kills the worker outright rather than leaving
// a response in the pipe for the next caller to misread.
//
// # Errors
//
//   - ErrWorkerExited: the process died during a call
//   - BackendError: the worker answered with a JSON-RPC error object
//
// # Lifecycle
//
// A background reaper stops workers idle beyond their configured timeout
// (worker.idle_timeout, overridable per library; zero disables reaping).
// Shutdown stops every worker, SIGTERM first and SIGKILL after a grace
// period.
package pool
