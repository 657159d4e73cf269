// Package controller implements the three dispatch algorithms of
// spec.md §4.5 — Sweep, ABC-Rejection and ABC-SMC — plus an adaptive SMC
// variant supplementing a feature dropped by the distillation (see
// SPEC_FULL.md §4.5). Every Controller drives a master.Master
// non-blockingly: Iterate is called once per main-loop tick and must
// never block on the simulator itself, only on the much cheaper
// auxiliary executables (prior sampler, perturber, pdfs), which the
// original implementation also ran synchronously outside the worker
// pool.
package controller

import (
	"errors"

	"github.com/ChuLiYu/pakman/internal/master"
)

// Controller is driven once per main-loop tick until Done reports true.
type Controller interface {
	Iterate(m master.Master) error
	Done() bool
}

// ErrReentrant is returned when Iterate is invoked while a previous call
// on the same Controller has not yet returned. The cooperative loop
// never does this itself; it guards against programmer error the same
// way the original controller asserted against re-entrant iterate calls.
var ErrReentrant = errors.New("controller: Iterate is not reentrant")

// guard is embedded by every Controller implementation to enforce
// non-reentrancy.
type guard struct {
	running bool
}

func (g *guard) enter() error {
	if g.running {
		return ErrReentrant
	}
	g.running = true
	return nil
}

func (g *guard) exit() {
	g.running = false
}
