package controller

import (
	"testing"
	"time"

	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParallelForkedMaster(t *testing.T, simulator command.Command, slots int) *master.Parallel {
	t.Helper()
	handles := make([]workerhandler.Handle, slots)
	for i := range handles {
		handles[i] = workerhandler.NewForkedHandle(simulator, time.Second, true)
	}
	return master.NewParallel(handles)
}

func TestRejectionCollectsExactlyTargetOrMoreAcceptedParameters(t *testing.T) {
	priorSampler, err := command.New(`sh -c 'echo $(( RANDOM % 2 ))'`)
	require.NoError(t, err)
	simulator, err := command.New(`sh -c 'read e; read p; if [ "$p" = "1" ]; then echo accept; else echo reject; fi'`)
	require.NoError(t, err)

	m := newParallelForkedMaster(t, simulator, 4)
	r := NewRejection("0.1", priorSampler, 3, false)

	runToCompletion(t, m, r, 10*time.Second)

	accepted := r.Accepted()
	assert.GreaterOrEqual(t, len(accepted), 3)
	for _, p := range accepted {
		assert.Equal(t, "1", string(p))
	}
}

func TestRejectionKeepsAllParallelSlotsSaturatedNearTarget(t *testing.T) {
	priorSampler, err := command.New(`sh -c 'echo 1'`)
	require.NoError(t, err)
	simulator, err := command.New(`sh -c 'read e; read p; echo accept'`)
	require.NoError(t, err)

	m := newParallelForkedMaster(t, simulator, 16)
	r := NewRejection("0.1", priorSampler, 10, false)

	runToCompletion(t, m, r, 10*time.Second)

	assert.GreaterOrEqual(t, len(r.Accepted()), 10)
}

func TestRejectionRaisesOnFirstErrorWhenIgnoreErrorsIsOff(t *testing.T) {
	priorSampler, err := command.New(`sh -c 'echo 1'`)
	require.NoError(t, err)
	simulator, err := command.New(`sh -c 'read e; read p; exit 3'`)
	require.NoError(t, err)

	m := newParallelForkedMaster(t, simulator, 2)
	r := NewRejection("0.1", priorSampler, 3, false)

	deadline := time.Now().Add(5 * time.Second)
	var iterErr error
	for !r.Done() {
		require.False(t, time.Now().After(deadline), "test timed out before the controller raised")
		m.Iterate()
		iterErr = r.Iterate(m)
		if iterErr != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Error(t, iterErr)
}

func TestRejectionSkipsErroredTasksWhenIgnoreErrorsIsOn(t *testing.T) {
	priorSampler, err := command.New(`sh -c 'echo 1'`)
	require.NoError(t, err)
	simulator, err := command.New(`sh -c 'read e; read p; exit 3'`)
	require.NoError(t, err)

	m := newParallelForkedMaster(t, simulator, 2)
	r := NewRejection("0.1", priorSampler, 2, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !r.Done() {
		m.Iterate()
		require.NoError(t, r.Iterate(m))
		time.Sleep(time.Millisecond)
	}
	assert.Empty(t, r.Accepted(), "an always-erroring simulator must never contribute an accepted parameter")
}
