// Package task implements the Task entity and its queues.
//
// A Task wraps one simulator invocation: an immutable input string and,
// once finished, the output string and error code the simulator returned.
// Tasks move through exactly one of three queues (pending, busy, finished)
// owned by a Master, transitioning pending -> finished exactly once via
// RecordResult.
package task

import "errors"

// ErrNotPending is returned by RecordResult when the task has already
// recorded a result.
var ErrNotPending = errors.New("task: recordResult called on a non-pending task")

// Task represents a single simulator invocation and its eventual result.
type Task struct {
	input     string
	pending   bool
	output    string
	errorCode int
}

// New constructs a pending task from its input string.
func New(input string) *Task {
	return &Task{input: input, pending: true}
}

// Input returns the task's (immutable) input string.
func (t *Task) Input() string {
	return t.input
}

// IsPending reports whether the task has not yet recorded a result.
func (t *Task) IsPending() bool {
	return t.pending
}

// IsFinished reports whether the task has recorded a result.
func (t *Task) IsFinished() bool {
	return !t.pending
}

// RecordResult records the simulator's output and error code, transitioning
// the task from pending to finished. It is an error to call this more than
// once.
func (t *Task) RecordResult(output string, errorCode int) error {
	if !t.pending {
		return ErrNotPending
	}
	t.output = output
	t.errorCode = errorCode
	t.pending = false
	return nil
}

// Output returns the simulator's output string. It is only meaningful once
// IsFinished reports true.
func (t *Task) Output() string {
	return t.output
}

// ErrorCode returns the simulator's exit/error code. It is only meaningful
// once IsFinished reports true.
func (t *Task) ErrorCode() int {
	return t.errorCode
}

// DidErrorOccur reports whether the simulator returned a nonzero error
// code. It is only meaningful once IsFinished reports true.
func (t *Task) DidErrorOccur() bool {
	return t.errorCode != 0
}
