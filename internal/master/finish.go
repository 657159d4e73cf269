package master

import "github.com/ChuLiYu/pakman/pkg/task"

// orderedFinish buffers tasks that complete out of push order and
// releases them into a FIFO in the exact order they were originally
// pushed, per spec.md §4.4: "the finished queue preserves push order
// regardless of completion order." A Parallel master's slots can finish
// tasks in any order; orderedFinish is what makes that invisible to
// whatever drains the finished queue.
type orderedFinish struct {
	nextPush    uint64
	nextRelease uint64
	held        map[uint64]*task.Task
	ready       *task.Queue
}

func newOrderedFinish() *orderedFinish {
	return &orderedFinish{held: make(map[uint64]*task.Task), ready: task.NewQueue()}
}

// assignSeq returns the next push sequence number to associate with a
// task being admitted to the pending queue.
func (o *orderedFinish) assignSeq() uint64 {
	seq := o.nextPush
	o.nextPush++
	return seq
}

// complete records that the task pushed at seq has finished, releasing
// it (and any tasks already held immediately behind it) into the ready
// queue.
func (o *orderedFinish) complete(seq uint64, t *task.Task) {
	o.held[seq] = t
	for {
		next, ok := o.held[o.nextRelease]
		if !ok {
			return
		}
		o.ready.PushBack(next)
		delete(o.held, o.nextRelease)
		o.nextRelease++
	}
}

// pop returns the next task in original push order, if any have been
// released.
func (o *orderedFinish) pop() (*task.Task, bool) {
	t := o.ready.PopFront()
	if t == nil {
		return nil, false
	}
	return t, true
}

// len reports how many released tasks are waiting to be popped.
func (o *orderedFinish) len() int {
	return o.ready.Len()
}
