// Package manager implements the Manager state machine from spec.md
// §4.3: the component a Master hands one task at a time, which in turn
// drives a single internal/workerhandler.Handle to completion.
//
// The original implementation put a Manager in its own MPI rank so the
// Master could poll many of them concurrently without blocking. Go's
// goroutines make that process boundary unnecessary for the Master side:
// a Manager here is a plain in-process value driven by direct calls from
// a Master's iterate loop, each call non-blocking exactly as the
// original intercommunicator calls were. The one place a real
// OS-process boundary remains is between a Manager and a persistent
// peer worker, which is why internal/workerhandler.PeerHandle still
// speaks internal/wire over a pipe.
package manager

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/task"
)

// State is one of the three states a Manager can be in.
type State int

const (
	// Idle: no task assigned, ready to accept one.
	Idle State = iota
	// Busy: a task has been handed to the worker handler and has not
	// yet finished.
	Busy
	// Terminated: the worker handler has been asked to shut down and
	// has done so. A terminated Manager accepts no further tasks.
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrNotIdle is returned by Submit when the Manager cannot currently
// accept a task.
var ErrNotIdle = errors.New("manager: not idle")

// Manager owns exactly one workerhandler.Handle and exposes the
// idle/busy/terminated state machine a Master drives.
type Manager struct {
	handle workerhandler.Handle
	state  State

	pending   *task.Task
	finished  *task.Task
	terminate bool
}

// New wraps handle in a Manager, initially idle.
func New(handle workerhandler.Handle) *Manager {
	return &Manager{handle: handle, state: Idle}
}

// State reports the Manager's current state.
func (m *Manager) State() State {
	return m.state
}

// Submit hands t to the worker handler. Returns ErrNotIdle if the
// Manager is busy or terminated.
func (m *Manager) Submit(t *task.Task) error {
	if m.state != Idle {
		return ErrNotIdle
	}
	if err := m.handle.Start(t); err != nil {
		return fmt.Errorf("manager: submitting task: %w", err)
	}
	m.pending = t
	m.state = Busy
	return nil
}

// Iterate performs one non-blocking step of the Manager's work: polling
// the worker handler for a finished task, or driving shutdown if a
// termination request is outstanding. Per spec.md §4.3, a termination
// flag takes priority over everything else in the Busy state: the
// worker handler is terminated and the Manager moves straight to
// Terminated without waiting for the in-flight task to finish, so
// shutdown never blocks on a slow or wedged simulator. It must be
// called repeatedly by the owning Master's own iterate loop.
func (m *Manager) Iterate() {
	switch m.state {
	case Busy:
		if m.terminate {
			m.beginTermination()
			m.pending = nil
			m.state = Terminated
			return
		}
		if m.handle.Poll() {
			m.finished = m.pending
			m.pending = nil
			m.state = Idle
		}
	case Idle:
		if m.terminate {
			m.beginTermination()
			m.state = Terminated
		}
	case Terminated:
	}
}

func (m *Manager) beginTermination() {
	m.handle.Terminate()
}

// RequestTermination flags the Manager for shutdown. The flag is acted
// on by the next Iterate call: Idle transitions to Terminated right
// away, Busy abandons its in-flight task rather than waiting for it to
// finish, per spec.md §4.3. Idempotent.
func (m *Manager) RequestTermination() {
	if m.terminate {
		return
	}
	m.terminate = true
	if m.state == Idle {
		m.beginTermination()
	}
}

// TakeFinished returns and clears the most recently finished task, if
// any. Each finished task is returned exactly once.
func (m *Manager) TakeFinished() (*task.Task, bool) {
	if m.finished == nil {
		return nil, false
	}
	t := m.finished
	m.finished = nil
	return t, true
}

// Terminated reports whether the Manager has finished shutting down.
func (m *Manager) Terminated() bool {
	return m.state == Terminated
}
