package controller

import (
	"fmt"

	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/pkg/protocol"
	"github.com/ChuLiYu/pakman/pkg/task"
	"github.com/ChuLiYu/pakman/pkg/types"
)

// SweepResult is one simulator invocation's raw outcome for a swept
// parameter.
type SweepResult struct {
	Parameter types.Parameter
	Output    string
	ErrorCode int
}

// Sweep enumerates a fixed parameter list and runs the simulator once
// per parameter, collecting raw output rather than applying an
// accept/reject verdict. It is the simplest Controller: a deterministic
// grid evaluation rather than a probabilistic inference scheme.
type Sweep struct {
	guard

	epsilon types.Epsilon
	params  []types.Parameter

	ignoreErrors bool

	started  bool
	inFlight map[*task.Task]types.Parameter
	results  []SweepResult
}

// NewSweep returns a Sweep controller over params, each run against the
// simulator with a fixed epsilon. Per spec.md §7, a non-zero simulator
// exit code is fatal unless ignoreErrors is set, in which case the task
// is still recorded in Results (Sweep has no accept/reject verdict to
// withhold).
func NewSweep(epsilon types.Epsilon, params []types.Parameter, ignoreErrors bool) *Sweep {
	return &Sweep{
		epsilon:      epsilon,
		params:       params,
		ignoreErrors: ignoreErrors,
		inFlight:     make(map[*task.Task]types.Parameter),
	}
}

// Iterate implements Controller.
func (s *Sweep) Iterate(m master.Master) error {
	if err := s.guard.enter(); err != nil {
		return err
	}
	defer s.guard.exit()

	if !s.started {
		for _, p := range s.params {
			t := task.New(protocol.FormatSimulatorInput(s.epsilon, p))
			s.inFlight[t] = p
			if err := m.Push(t); err != nil {
				return fmt.Errorf("controller: sweep: pushing %s: %w", p, err)
			}
		}
		s.started = true
	}

	for {
		t, ok := m.PopFinished()
		if !ok {
			break
		}
		p, known := s.inFlight[t]
		if !known {
			continue
		}
		delete(s.inFlight, t)
		if t.DidErrorOccur() && !s.ignoreErrors {
			return fmt.Errorf("controller: sweep: simulator exited %d for %s", t.ErrorCode(), p)
		}
		s.results = append(s.results, SweepResult{
			Parameter: p,
			Output:    t.Output(),
			ErrorCode: t.ErrorCode(),
		})
	}

	return nil
}

// Done implements Controller: true once every swept parameter has a
// recorded result.
func (s *Sweep) Done() bool {
	return s.started && len(s.results) == len(s.params)
}

// Results returns the collected sweep outcomes, one per parameter, in
// the order the parameters were pushed (the Master releases finished
// tasks in push order).
func (s *Sweep) Results() []SweepResult {
	return s.results
}
