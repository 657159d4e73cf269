package controller

import (
	"testing"
	"time"

	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smcFixtureCommands(t *testing.T) (simulator, priorSampler, perturber, priorPdf, perturbationPdf command.Command) {
	t.Helper()
	var err error
	simulator, err = command.New(`sh -c 'cat >/dev/null; echo accept'`)
	require.NoError(t, err)
	priorSampler, err = command.New(`sh -c 'echo 5'`)
	require.NoError(t, err)
	perturber, err = command.New(`sh -c 'read t; read p; echo $p'`)
	require.NoError(t, err)
	priorPdf, err = command.New(`sh -c 'read p; echo 1'`)
	require.NoError(t, err)
	perturbationPdf, err = command.New(`sh -c 'read t; read perturbed; while read p; do echo 1; done'`)
	require.NoError(t, err)
	return
}

func TestSMCConvergesToAFullyWeightedFinalPopulation(t *testing.T) {
	simulator, priorSampler, perturber, priorPdf, perturbationPdf := smcFixtureCommands(t)
	m := newParallelForkedMaster(t, simulator, 2)

	smc := NewSMC(SMCConfig{
		PriorSampler:    priorSampler,
		Perturber:       perturber,
		PriorPdf:        priorPdf,
		PerturbationPdf: perturbationPdf,
		PopulationSize:  2,
		Epsilons:        []types.Epsilon{"0.1", "0.1"},
		Seed:            1,
	})

	runToCompletion(t, m, smc, 10*time.Second)

	pop := smc.Population()
	require.Len(t, pop, 2)
	for _, p := range pop {
		assert.Equal(t, types.Parameter("5"), p.Parameter)
		assert.InDelta(t, 0.5, p.Weight, 1e-9)
	}
}

func TestSMCRaisesOnFirstErrorWhenIgnoreErrorsIsOff(t *testing.T) {
	_, priorSampler, perturber, priorPdf, perturbationPdf := smcFixtureCommands(t)
	simulator, err := command.New(`sh -c 'cat >/dev/null; exit 3'`)
	require.NoError(t, err)
	m := newParallelForkedMaster(t, simulator, 2)

	smc := NewSMC(SMCConfig{
		PriorSampler:    priorSampler,
		Perturber:       perturber,
		PriorPdf:        priorPdf,
		PerturbationPdf: perturbationPdf,
		PopulationSize:  2,
		Epsilons:        []types.Epsilon{"0.1"},
		Seed:            1,
	})

	deadline := time.Now().Add(5 * time.Second)
	var iterErr error
	for !smc.Done() {
		require.False(t, time.Now().After(deadline), "test timed out before the controller raised")
		m.Iterate()
		iterErr = smc.Iterate(m)
		if iterErr != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Error(t, iterErr)
}

func TestSMCSkipsErroredTasksWhenIgnoreErrorsIsOn(t *testing.T) {
	_, priorSampler, perturber, priorPdf, perturbationPdf := smcFixtureCommands(t)
	simulator, err := command.New(`sh -c 'cat >/dev/null; exit 3'`)
	require.NoError(t, err)
	m := newParallelForkedMaster(t, simulator, 2)

	smc := NewSMC(SMCConfig{
		PriorSampler:    priorSampler,
		Perturber:       perturber,
		PriorPdf:        priorPdf,
		PerturbationPdf: perturbationPdf,
		PopulationSize:  2,
		Epsilons:        []types.Epsilon{"0.1"},
		Seed:            1,
		IgnoreErrors:    true,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !smc.Done() {
		m.Iterate()
		require.NoError(t, smc.Iterate(m))
		time.Sleep(time.Millisecond)
	}
	assert.Empty(t, smc.Population(), "an always-erroring simulator must never contribute a particle")
}

func TestAdaptiveSMCHaltsOnceEpsilonFloorIsReached(t *testing.T) {
	simulator, priorSampler, perturber, priorPdf, perturbationPdf := smcFixtureCommands(t)
	m := newParallelForkedMaster(t, simulator, 2)

	smc := NewAdaptiveSMC(AdaptiveSMCConfig{
		PriorSampler:     priorSampler,
		Perturber:        perturber,
		PriorPdf:         priorPdf,
		PerturbationPdf:  perturbationPdf,
		PopulationSize:   2,
		InitialEpsilon:   1.0,
		MinEpsilon:       0.01,
		MaxGenerations:   10,
		ShrinkFactor:     0.5,
		TargetAcceptance: 0.5,
		Seed:             1,
	})

	runToCompletion(t, m, smc, 15*time.Second)

	assert.True(t, smc.Done())
	assert.NotEmpty(t, smc.Population())
}
