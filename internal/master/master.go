// Package master implements the two Master variants of spec.md §4.4: a
// Serial master driving one Manager synchronously, and a Parallel
// master fanning work out across a fixed set of Managers (slots).
// Both share the push-order-preserving finished queue in finish.go.
package master

import "github.com/ChuLiYu/pakman/pkg/task"

// Master is the interface a Controller drives each iteration. Push,
// Iterate and PopFinished are all non-blocking.
type Master interface {
	// Push admits a task to the pending queue. Returns an error if the
	// master cannot currently accept new work (e.g. mid-flush).
	Push(t *task.Task) error

	// Iterate performs one non-blocking step: dispatching pending tasks
	// to idle slots and polling busy ones.
	Iterate()

	// NeedMorePendingTasks reports whether the pending queue has room
	// for more work: true while pending < slot count (Parallel) or
	// pending < 1 (Serial), per spec.md §4.4. A Controller drives its
	// top-up loop off this rather than its own accept/target deficit,
	// so it keeps every slot saturated independent of how close it is
	// to finishing.
	NeedMorePendingTasks() bool

	// PopFinished returns the next finished task in original push
	// order, if any are ready.
	PopFinished() (*task.Task, bool)

	// Drained reports whether there is no pending or in-flight work
	// (finished tasks may still be waiting to be popped).
	Drained() bool

	// RequestFlush discards pending, busy, and finished work and stops
	// admitting new tasks until ResetFlush is called, giving a
	// Controller (ABC-SMC's generation boundary) a clean point to
	// discard in-flight stale-epsilon tasks before starting the next
	// generation. Idempotent: calling it again while already draining
	// has no further effect.
	RequestFlush()

	// FlushComplete reports whether a requested flush has fully
	// drained every slot.
	FlushComplete() bool

	// ResetFlush clears the flush barrier, resuming normal dispatch.
	// Callers should only call this once FlushComplete reports true.
	ResetFlush()

	// RequestTerminate stops dispatching new tasks and begins shutting
	// every slot down. Parallel abandons a busy slot's in-flight task on
	// the slot's next Iterate; Serial lets its in-flight task (if any)
	// finish first.
	RequestTerminate()

	// Terminated reports whether every slot has finished shutting
	// down.
	Terminated() bool
}
