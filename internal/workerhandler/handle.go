// Package workerhandler implements the two ways Pakman can run a task's
// simulator: ForkedHandle execs the simulator fresh for every task
// (spec.md §5.1), PeerHandle keeps one child process alive and feeds it
// tasks over the internal/wire message fabric (spec.md §5.2). Both are
// owned and driven by a single internal/manager.Manager; neither
// maintains global state of its own.
package workerhandler

import "github.com/ChuLiYu/pakman/pkg/task"

// Handle is the interface internal/manager drives each iteration. Start
// and Poll are both non-blocking: Start hands a task off to the worker
// and returns immediately, Poll reports whether the in-flight task has
// finished without ever blocking on the child process.
type Handle interface {
	// Start begins running t. Returns an error if a task is already in
	// flight.
	Start(t *task.Task) error

	// Poll checks for a finished result. If the in-flight task has
	// finished, Poll records its result on the task and returns true.
	Poll() bool

	// Busy reports whether a task is currently in flight.
	Busy() bool

	// Terminate begins shutting the worker down. It is idempotent and
	// non-blocking; repeated Poll calls drive the shutdown to
	// completion.
	Terminate()

	// Terminated reports whether the worker has fully shut down.
	Terminated() bool
}
