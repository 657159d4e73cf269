package controller

import (
	"fmt"
	"strconv"

	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/internal/metrics"
	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/types"
)

// AdaptiveSMCConfig configures an AdaptiveSMC run. Unlike SMCConfig it
// does not take a fixed per-generation epsilon schedule; instead each
// generation's tolerance is derived from the previous generation's
// observed acceptance rate, shrinking faster when acceptance was easy
// and slower when it was hard. This supplements a feature present in
// original_source/src/controller/AdaptiveABCSMCController.cc that the
// distilled spec dropped: the simulator contract here only returns an
// accept/reject verdict rather than a distance, so the adaptation
// signal is acceptance rate rather than a distance quantile.
type AdaptiveSMCConfig struct {
	PriorSampler    command.Command
	Perturber       command.Command
	PriorPdf        command.Command
	PerturbationPdf command.Command
	PopulationSize  int
	InitialEpsilon  float64
	MinEpsilon      float64
	MaxGenerations  int
	ShrinkFactor    float64 // applied every generation; scaled further by TargetAcceptance/rate when the rate exceeds TargetAcceptance
	TargetAcceptance float64
	Seed            int64

	// IgnoreErrors controls the global ignore-errors policy of spec.md
	// §7, threaded through to the inner SMC controller.
	IgnoreErrors bool
}

// AdaptiveSMC drives an SMC controller whose epsilon schedule is
// computed generation by generation instead of supplied up front.
type AdaptiveSMC struct {
	cfg   AdaptiveSMCConfig
	inner *SMC

	epsilon float64
	halted  bool
}

// NewAdaptiveSMC returns an AdaptiveSMC controller configured by cfg.
func NewAdaptiveSMC(cfg AdaptiveSMCConfig) *AdaptiveSMC {
	inner := NewSMC(SMCConfig{
		PriorSampler:    cfg.PriorSampler,
		Perturber:       cfg.Perturber,
		PriorPdf:        cfg.PriorPdf,
		PerturbationPdf: cfg.PerturbationPdf,
		PopulationSize:  cfg.PopulationSize,
		Seed:            cfg.Seed,
		IgnoreErrors:    cfg.IgnoreErrors,
	})
	return &AdaptiveSMC{cfg: cfg, inner: inner, epsilon: cfg.InitialEpsilon}
}

// AttachMetrics wires a Collector into the inner SMC controller.
func (a *AdaptiveSMC) AttachMetrics(c *metrics.Collector) {
	a.inner.AttachMetrics(c)
}

// Iterate implements Controller.
func (a *AdaptiveSMC) Iterate(m master.Master) error {
	if a.halted {
		return nil
	}
	if a.inner.NeedsEpsilon() {
		if a.inner.Generation() > 0 {
			a.epsilon = a.nextEpsilon()
		}
		if a.epsilon < a.cfg.MinEpsilon || a.inner.Generation() >= a.cfg.MaxGenerations {
			a.halted = true
			return nil
		}
		a.inner.AppendEpsilon(types.Epsilon(strconv.FormatFloat(a.epsilon, 'g', -1, 64)))
	}
	if err := a.inner.Iterate(m); err != nil {
		return fmt.Errorf("controller: adaptive smc: %w", err)
	}
	return nil
}

// nextEpsilon shrinks the previous generation's epsilon by ShrinkFactor,
// proportionally more when the observed acceptance rate exceeded the
// target (the population was found too easily, so tighten faster).
func (a *AdaptiveSMC) nextEpsilon() float64 {
	rate := a.inner.PreviousAcceptanceRate()
	factor := a.cfg.ShrinkFactor
	if rate > a.cfg.TargetAcceptance && a.cfg.TargetAcceptance > 0 {
		factor *= a.cfg.TargetAcceptance / rate
	}
	return a.epsilon * factor
}

// Done implements Controller: finished once the adaptive schedule halts
// (epsilon floor or generation cap reached). The inner SMC runs with an
// open schedule and does not finish on its own.
func (a *AdaptiveSMC) Done() bool {
	return a.halted || a.inner.Done()
}

// Population returns the final generation, valid once Done reports
// true.
func (a *AdaptiveSMC) Population() []Particle {
	return a.inner.Population()
}
