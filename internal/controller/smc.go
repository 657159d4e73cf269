package controller

import (
	"fmt"
	"math/rand"

	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/internal/metrics"
	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/protocol"
	"github.com/ChuLiYu/pakman/pkg/task"
	"github.com/ChuLiYu/pakman/pkg/types"
)

// Particle is one member of an ABC-SMC population: a parameter together
// with its importance weight.
type Particle struct {
	Parameter types.Parameter
	Weight    float64
}

// SMCConfig configures an ABC-SMC run. Epsilons holds one decreasing
// tolerance per generation; its length is the number of generations.
// An empty Epsilons leaves the schedule to a driver (e.g. AdaptiveSMC),
// which appends one epsilon per generation via AppendEpsilon; such an
// SMC never reports Done on its own.
type SMCConfig struct {
	PriorSampler    command.Command
	Perturber       command.Command
	PriorPdf        command.Command
	PerturbationPdf command.Command
	PopulationSize  int
	Epsilons        []types.Epsilon
	Seed            int64

	// IgnoreErrors controls the global ignore-errors policy of spec.md
	// §7: a non-zero simulator exit code is fatal unless set, in which
	// case the task is silently skipped and not counted toward the
	// generation.
	IgnoreErrors bool
}

type pendingParticle struct {
	parameter types.Parameter
}

// SMC implements ABC-SMC (spec.md §4.5.3): successive generations of a
// weighted particle population, each perturbed from the previous
// generation and reweighted by the ratio of its prior density to its
// importance density under the perturbation kernel. Grounded on
// original_source/src/controller/ABCSMCController.cc and
// smc_weight.cc for the weight update itself.
type SMC struct {
	guard

	cfg SMCConfig
	rng *rand.Rand

	gen        int
	population []Particle // previous, fully weighted generation
	nextGen    []Particle // accumulating current generation, un-normalized weights

	inFlight     map[*task.Task]pendingParticle
	done         bool
	flushing     bool
	openSchedule bool // epsilons are appended by a driver

	triedThisGen       int
	acceptedThisGen    int
	prevAcceptanceRate float64

	metrics *metrics.Collector
}

// NewSMC returns an SMC controller configured by cfg.
func NewSMC(cfg SMCConfig) *SMC {
	return &SMC{
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		inFlight:     make(map[*task.Task]pendingParticle),
		openSchedule: len(cfg.Epsilons) == 0,
	}
}

// AttachMetrics wires a Collector so every generation advance updates
// the generation gauge.
func (s *SMC) AttachMetrics(c *metrics.Collector) {
	s.metrics = c
}

// Iterate implements Controller.
func (s *SMC) Iterate(m master.Master) error {
	if err := s.guard.enter(); err != nil {
		return err
	}
	defer s.guard.exit()

	if s.done {
		return nil
	}

	if s.flushing {
		if !m.FlushComplete() {
			return nil
		}
		m.ResetFlush()
		s.flushing = false
		s.inFlight = make(map[*task.Task]pendingParticle)

		normalizeWeights(s.nextGen)
		s.population = s.nextGen
		s.nextGen = nil
		s.prevAcceptanceRate = s.AcceptanceRate()
		s.gen++
		s.triedThisGen, s.acceptedThisGen = 0, 0
		if s.metrics != nil {
			s.metrics.SetGeneration(s.gen)
		}
		if !s.openSchedule && s.gen >= len(s.cfg.Epsilons) {
			s.done = true
		}
		return nil
	}

	for len(s.nextGen) < s.cfg.PopulationSize {
		t, ok := m.PopFinished()
		if !ok {
			break
		}
		pp, known := s.inFlight[t]
		if !known {
			continue
		}
		delete(s.inFlight, t)

		if t.DidErrorOccur() {
			if !s.cfg.IgnoreErrors {
				return fmt.Errorf("controller: smc: simulator exited %d for %s", t.ErrorCode(), pp.parameter)
			}
			s.triedThisGen++
			continue
		}

		accept, err := protocol.ParseSimulatorOutput(t.Output())
		if err != nil {
			return fmt.Errorf("controller: smc: %w", err)
		}
		s.triedThisGen++
		if !accept {
			continue
		}
		s.acceptedThisGen++

		weight, err := s.weighFor(pp.parameter)
		if err != nil {
			return fmt.Errorf("controller: smc: weighing %s: %w", pp.parameter, err)
		}
		s.nextGen = append(s.nextGen, Particle{Parameter: pp.parameter, Weight: weight})
	}

	if len(s.nextGen) >= s.cfg.PopulationSize {
		// Generation full: flush the Master so any still in-flight,
		// now-stale-epsilon tasks are discarded cleanly rather than
		// leaking into the next generation's bookkeeping.
		m.RequestFlush()
		s.flushing = true
		return nil
	}

	for m.NeedMorePendingTasks() {
		candidate, err := s.propose()
		if err != nil {
			return fmt.Errorf("controller: smc: proposing candidate: %w", err)
		}
		t := task.New(protocol.FormatSimulatorInput(s.cfg.Epsilons[s.gen], candidate))
		s.inFlight[t] = pendingParticle{parameter: candidate}
		if err := m.Push(t); err != nil {
			return fmt.Errorf("controller: smc: pushing task: %w", err)
		}
	}

	return nil
}

// AcceptanceRate reports the fraction of simulator runs accepted so far
// in the generation currently in progress. Returns 0 if none have
// finished yet.
func (s *SMC) AcceptanceRate() float64 {
	if s.triedThisGen == 0 {
		return 0
	}
	return float64(s.acceptedThisGen) / float64(s.triedThisGen)
}

// PreviousAcceptanceRate reports the acceptance rate observed over the
// most recently completed generation, for drivers (e.g. AdaptiveSMC)
// that compute the next epsilon from it.
func (s *SMC) PreviousAcceptanceRate() float64 {
	return s.prevAcceptanceRate
}

// NeedsEpsilon reports whether the current generation has no configured
// epsilon yet, which a driver (e.g. AdaptiveSMC) must supply via
// AppendEpsilon before the next Iterate call.
func (s *SMC) NeedsEpsilon() bool {
	return !s.done && s.gen >= len(s.cfg.Epsilons)
}

// AppendEpsilon adds the tolerance for the next ungenerated generation.
func (s *SMC) AppendEpsilon(e types.Epsilon) {
	s.cfg.Epsilons = append(s.cfg.Epsilons, e)
}

// Generation reports the index of the generation currently in progress.
func (s *SMC) Generation() int {
	return s.gen
}

// propose draws a new candidate parameter: directly from the prior in
// generation 0, or by perturbing a particle resampled from the previous
// generation's weighted population otherwise.
func (s *SMC) propose() (types.Parameter, error) {
	if s.gen == 0 {
		return protocol.SampleFromPrior(s.cfg.PriorSampler)
	}
	parent := weightedPick(s.rng, s.population)
	return protocol.PerturbParameter(s.cfg.Perturber, s.gen, parent.Parameter)
}

// weighFor computes theta's importance weight for the current
// generation: uniform in generation 0, otherwise the ratio of its prior
// density to the population-averaged perturbation kernel density.
func (s *SMC) weighFor(theta types.Parameter) (float64, error) {
	if s.gen == 0 {
		return 1.0, nil
	}

	priorDensity, err := protocol.GetPriorPdf(s.cfg.PriorPdf, theta)
	if err != nil {
		return 0, err
	}

	previousParams := make([]types.Parameter, len(s.population))
	for i, p := range s.population {
		previousParams[i] = p.Parameter
	}
	kernelDensities, err := protocol.GetPerturbationPdf(s.cfg.PerturbationPdf, s.gen, theta, previousParams)
	if err != nil {
		return 0, err
	}

	var denom float64
	for i, p := range s.population {
		denom += p.Weight * kernelDensities[i]
	}
	if denom == 0 {
		return 0, fmt.Errorf("perturbation kernel density is zero for every previous particle")
	}
	return priorDensity / denom, nil
}

// weightedPick draws one particle from population with probability
// proportional to its weight.
func weightedPick(rng *rand.Rand, population []Particle) Particle {
	var total float64
	for _, p := range population {
		total += p.Weight
	}
	r := rng.Float64() * total
	var cum float64
	for _, p := range population {
		cum += p.Weight
		if r <= cum {
			return p
		}
	}
	return population[len(population)-1]
}

func normalizeWeights(population []Particle) {
	var total float64
	for _, p := range population {
		total += p.Weight
	}
	if total == 0 {
		return
	}
	for i := range population {
		population[i].Weight /= total
	}
}

// Done implements Controller.
func (s *SMC) Done() bool {
	return s.done
}

// Population returns the final, fully weighted generation once Done
// reports true.
func (s *SMC) Population() []Particle {
	return s.population
}
