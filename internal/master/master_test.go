package master

import (
	"testing"

	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle finishes a task after a configurable number of Poll calls,
// letting tests control completion order precisely.
type fakeHandle struct {
	busy        bool
	finishAfter int
	polls       int
	task        *task.Task
	terminated  bool
}

func (f *fakeHandle) Start(t *task.Task) error {
	f.busy = true
	f.task = t
	f.polls = 0
	return nil
}

func (f *fakeHandle) Poll() bool {
	if !f.busy {
		return false
	}
	f.polls++
	if f.polls < f.finishAfter {
		return false
	}
	_ = f.task.RecordResult(f.task.Input()+":done", 0)
	f.busy = false
	f.task = nil
	return true
}

func (f *fakeHandle) Busy() bool { return f.busy }

func (f *fakeHandle) Terminate() {
	if !f.busy {
		f.terminated = true
	}
}

func (f *fakeHandle) Terminated() bool { return f.terminated }

func TestSerialRunsOneTaskAtATime(t *testing.T) {
	h := &fakeHandle{finishAfter: 1}
	s := NewSerial(h)

	require.NoError(t, s.Push(task.New("a")))
	require.NoError(t, s.Push(task.New("b")))

	s.Iterate()
	got, ok := s.PopFinished()
	require.True(t, ok)
	assert.Equal(t, "a:done", got.Output())

	_, ok = s.PopFinished()
	assert.False(t, ok)

	s.Iterate()
	got, ok = s.PopFinished()
	require.True(t, ok)
	assert.Equal(t, "b:done", got.Output())
}

func TestSerialDrainedReflectsInFlightWork(t *testing.T) {
	h := &fakeHandle{finishAfter: 2}
	s := NewSerial(h)
	require.NoError(t, s.Push(task.New("a")))

	assert.False(t, s.Drained())
	s.Iterate()
	assert.False(t, s.Drained())
	s.Iterate()
	assert.True(t, s.Drained())
}

func TestParallelPreservesPushOrderAcrossOutOfOrderCompletion(t *testing.T) {
	// Slot 0 takes 3 polls, slot 1 takes 1 poll: task "b" (slot 1)
	// finishes first but must not be released before task "a" (slot 0).
	h0 := &fakeHandle{finishAfter: 3}
	h1 := &fakeHandle{finishAfter: 1}
	p := NewParallel([]workerhandler.Handle{h0, h1})

	require.NoError(t, p.Push(task.New("a")))
	require.NoError(t, p.Push(task.New("b")))

	for i := 0; i < 3; i++ {
		p.Iterate()
	}

	first, ok := p.PopFinished()
	require.True(t, ok)
	assert.Equal(t, "a:done", first.Output())

	second, ok := p.PopFinished()
	require.True(t, ok)
	assert.Equal(t, "b:done", second.Output())
}

func TestParallelFlushBarrierBlocksNewDispatchUntilDrained(t *testing.T) {
	h0 := &fakeHandle{finishAfter: 2}
	p := NewParallel([]workerhandler.Handle{h0})

	require.NoError(t, p.Push(task.New("a")))
	p.Iterate()
	p.RequestFlush()

	err := p.Push(task.New("b"))
	assert.Error(t, err)

	assert.False(t, p.FlushComplete())
	p.Iterate()
	assert.True(t, p.FlushComplete())

	p.ResetFlush()
	require.NoError(t, p.Push(task.New("b")))
}

func TestParallelNeedMorePendingTasksTracksSlotCountNotDeficit(t *testing.T) {
	h0 := &fakeHandle{finishAfter: 100}
	h1 := &fakeHandle{finishAfter: 100}
	p := NewParallel([]workerhandler.Handle{h0, h1})

	assert.True(t, p.NeedMorePendingTasks())
	require.NoError(t, p.Push(task.New("a")))
	assert.True(t, p.NeedMorePendingTasks())
	require.NoError(t, p.Push(task.New("b")))
	assert.False(t, p.NeedMorePendingTasks())

	p.Iterate()
	// Both a and b have been dispatched into slots, so the pending queue
	// is empty again: the predicate only ever looks at the pending
	// queue's own length against the slot count, not at how many slots
	// are currently busy, so it reports true again even though every
	// slot is occupied. This is what lets a Controller keep a full
	// slot-sized buffer of ready-to-run tasks queued up regardless of
	// how close it is to its own accept/target deficit.
	assert.True(t, p.NeedMorePendingTasks())
}

func TestSerialNeedMorePendingTasksIsFalseOnceOneTaskIsQueued(t *testing.T) {
	h := &fakeHandle{finishAfter: 100}
	s := NewSerial(h)

	assert.True(t, s.NeedMorePendingTasks())
	require.NoError(t, s.Push(task.New("a")))
	assert.False(t, s.NeedMorePendingTasks())
}

func TestParallelTerminateTakesEffectOnNextIterate(t *testing.T) {
	h0 := &fakeHandle{finishAfter: 1}
	p := NewParallel([]workerhandler.Handle{h0})

	require.NoError(t, p.Push(task.New("a")))
	p.Iterate()
	p.RequestTerminate()
	assert.False(t, p.Terminated())

	p.Iterate()
	assert.True(t, p.Terminated())
}
