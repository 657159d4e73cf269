package controller

import (
	"testing"
	"time"

	"github.com/ChuLiYu/pakman/internal/master"
	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runToCompletion(t *testing.T, m master.Master, c Controller, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !c.Done() {
		require.False(t, time.Now().After(deadline), "controller did not finish within %s", timeout)
		m.Iterate()
		require.NoError(t, c.Iterate(m))
		time.Sleep(time.Millisecond)
	}
}

func TestSweepRunsEveryParameterThroughTheSimulator(t *testing.T) {
	cmd, err := command.New("sh -c 'cat >/dev/null; echo ok'")
	require.NoError(t, err)
	m := master.NewSerial(workerhandler.NewForkedHandle(cmd, time.Second, true))

	params := []types.Parameter{"1", "2", "3"}
	sweep := NewSweep("0.1", params, false)

	runToCompletion(t, m, sweep, 5*time.Second)

	results := sweep.Results()
	require.Len(t, results, 3)
	seen := map[types.Parameter]bool{}
	for _, r := range results {
		assert.Equal(t, "ok\n", r.Output)
		assert.Equal(t, 0, r.ErrorCode)
		seen[r.Parameter] = true
	}
	for _, p := range params {
		assert.True(t, seen[p], p)
	}
}

func TestSweepRaisesOnFirstErrorWhenIgnoreErrorsIsOff(t *testing.T) {
	cmd, err := command.New("sh -c 'cat >/dev/null; exit 3'")
	require.NoError(t, err)
	m := master.NewSerial(workerhandler.NewForkedHandle(cmd, time.Second, true))

	sweep := NewSweep("0.1", []types.Parameter{"1", "2", "3"}, false)

	deadline := time.Now().Add(5 * time.Second)
	var iterErr error
	for !sweep.Done() {
		require.False(t, time.Now().After(deadline), "test timed out before the controller raised")
		m.Iterate()
		iterErr = sweep.Iterate(m)
		if iterErr != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Error(t, iterErr)
}

func TestSweepCompletesWithAllResultsWhenIgnoreErrorsIsOn(t *testing.T) {
	cmd, err := command.New("sh -c 'cat >/dev/null; exit 3'")
	require.NoError(t, err)
	m := master.NewSerial(workerhandler.NewForkedHandle(cmd, time.Second, true))

	params := []types.Parameter{"1", "2", "3"}
	sweep := NewSweep("0.1", params, true)

	runToCompletion(t, m, sweep, 5*time.Second)

	results := sweep.Results()
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, 3, r.ErrorCode)
	}
}
