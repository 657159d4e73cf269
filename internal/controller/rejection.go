package controller

import (
	"fmt"

	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/protocol"
	"github.com/ChuLiYu/pakman/pkg/task"
	"github.com/ChuLiYu/pakman/pkg/types"
)

// Rejection implements ABC-Rejection: draw parameters from the prior,
// simulate under a single fixed epsilon, and keep every accepted draw
// until Target accepted parameters have been collected. To keep worker
// slots busy it pushes a new sample whenever the Master reports room in
// its pending queue (NeedMorePendingTasks), independent of the remaining
// deficit, so a burst of rejections doesn't stall the master waiting for
// a single new sample.
type Rejection struct {
	guard

	epsilon      types.Epsilon
	priorSampler command.Command
	target       int
	ignoreErrors bool

	inFlight map[*task.Task]types.Parameter
	accepted []types.Parameter
}

// NewRejection returns a Rejection controller that accepts target
// parameters under epsilon, sampling from priorSampler. Per spec.md §7,
// a non-zero simulator exit code is fatal unless ignoreErrors is set,
// in which case the task is silently skipped: not parsed, not counted
// toward the accepted population.
func NewRejection(epsilon types.Epsilon, priorSampler command.Command, target int, ignoreErrors bool) *Rejection {
	return &Rejection{
		epsilon:      epsilon,
		priorSampler: priorSampler,
		target:       target,
		ignoreErrors: ignoreErrors,
		inFlight:     make(map[*task.Task]types.Parameter),
	}
}

// Iterate implements Controller.
func (r *Rejection) Iterate(m master.Master) error {
	if err := r.guard.enter(); err != nil {
		return err
	}
	defer r.guard.exit()

	for {
		t, ok := m.PopFinished()
		if !ok {
			break
		}
		p, known := r.inFlight[t]
		if !known {
			continue
		}
		delete(r.inFlight, t)

		if t.DidErrorOccur() {
			if !r.ignoreErrors {
				return fmt.Errorf("controller: rejection: simulator exited %d for %s", t.ErrorCode(), p)
			}
			continue
		}

		accept, err := protocol.ParseSimulatorOutput(t.Output())
		if err != nil {
			return fmt.Errorf("controller: rejection: %w", err)
		}
		if accept {
			r.accepted = append(r.accepted, p)
		}
	}

	if len(r.accepted) < r.target {
		for m.NeedMorePendingTasks() {
			p, err := protocol.SampleFromPrior(r.priorSampler)
			if err != nil {
				return fmt.Errorf("controller: rejection: sampling prior: %w", err)
			}
			t := task.New(protocol.FormatSimulatorInput(r.epsilon, p))
			r.inFlight[t] = p
			if err := m.Push(t); err != nil {
				return fmt.Errorf("controller: rejection: pushing task: %w", err)
			}
		}
	}

	return nil
}

// Done implements Controller. A brief overshoot past Target is possible
// when multiple in-flight samples finish and are accepted in the same
// iteration; Accepted() may then return more than Target parameters.
func (r *Rejection) Done() bool {
	return len(r.accepted) >= r.target && len(r.inFlight) == 0
}

// Accepted returns every parameter accepted so far.
func (r *Rejection) Accepted() []types.Parameter {
	return r.accepted
}
