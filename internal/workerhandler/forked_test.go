package workerhandler

import (
	"testing"
	"time"

	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForPoll(t *testing.T, h Handle, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.Poll() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestForkedHandleRunsTaskToCompletion(t *testing.T) {
	cmd, err := command.New("cat")
	require.NoError(t, err)
	h := NewForkedHandle(cmd, time.Second, true)

	tk := task.New("hello\n")
	require.NoError(t, h.Start(tk))
	assert.True(t, h.Busy())

	require.True(t, waitForPoll(t, h, time.Second))
	assert.False(t, h.Busy())
	assert.Equal(t, "hello\n", tk.Output())
	assert.Equal(t, 0, tk.ErrorCode())
}

func TestForkedHandleRejectsConcurrentStart(t *testing.T) {
	cmd, err := command.New("sleep 1")
	require.NoError(t, err)
	h := NewForkedHandle(cmd, time.Second, true)

	require.NoError(t, h.Start(task.New("")))
	err = h.Start(task.New(""))
	assert.ErrorIs(t, err, ErrBusy)

	h.Terminate()
}

func TestForkedHandleCapturesNonzeroExit(t *testing.T) {
	cmd, err := command.New("sh -c 'exit 3'")
	require.NoError(t, err)
	h := NewForkedHandle(cmd, time.Second, true)

	tk := task.New("")
	require.NoError(t, h.Start(tk))
	require.True(t, waitForPoll(t, h, time.Second))
	assert.Equal(t, 3, tk.ErrorCode())
	assert.True(t, tk.DidErrorOccur())
}

func TestForkedHandleTerminateEscalatesToKill(t *testing.T) {
	cmd, err := command.New("sh -c 'trap \"\" TERM; sleep 5'")
	require.NoError(t, err)
	h := NewForkedHandle(cmd, 50*time.Millisecond, true)

	tk := task.New("")
	require.NoError(t, h.Start(tk))
	h.Terminate()

	require.True(t, waitForPoll(t, h, 2*time.Second))
	assert.True(t, h.Terminated())
}
