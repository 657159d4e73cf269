package master

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/pakman/internal/manager"
	"github.com/ChuLiYu/pakman/internal/metrics"
	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/task"
)

// Parallel fans tasks out across a fixed set of slots, one Manager per
// slot, per spec.md §4.4. It supports an explicit flush barrier: once
// RequestFlush is called, no further tasks are dispatched to slots until
// every slot drains, giving a Controller (ABC-SMC's generation
// boundary, in particular) a clean point to discard an entire wave of
// stale-epsilon tasks before starting the next one.
type Parallel struct {
	managers []*manager.Manager
	slotTask []*task.Task

	pending   *task.Queue
	seqOf     map[*task.Task]uint64
	finish    *orderedFinish
	startedAt map[*task.Task]time.Time

	draining  bool
	terminate bool

	metrics *metrics.Collector
}

// NewParallel returns a Parallel master with one slot per handle.
func NewParallel(handles []workerhandler.Handle) *Parallel {
	managers := make([]*manager.Manager, len(handles))
	for i, h := range handles {
		managers[i] = manager.New(h)
	}
	return &Parallel{
		managers:  managers,
		slotTask:  make([]*task.Task, len(handles)),
		pending:   task.NewQueue(),
		seqOf:     make(map[*task.Task]uint64),
		finish:    newOrderedFinish(),
		startedAt: make(map[*task.Task]time.Time),
	}
}

// AttachMetrics wires a Collector into the Master so every push,
// completion, and slot-occupancy change is recorded as it happens. A
// nil or never-attached Collector is a silent no-op.
func (p *Parallel) AttachMetrics(c *metrics.Collector) {
	p.metrics = c
}

// Slots reports how many Managers this master owns.
func (p *Parallel) Slots() int {
	return len(p.managers)
}

// Push implements Master. Push is rejected while a flush is draining, so
// a Controller cannot accidentally mix generations across a flush
// barrier.
func (p *Parallel) Push(t *task.Task) error {
	if p.draining {
		return fmt.Errorf("master: cannot push while flushing")
	}
	seq := p.finish.assignSeq()
	p.seqOf[t] = seq
	p.pending.PushBack(t)
	if p.metrics != nil {
		p.metrics.RecordPush()
	}
	return nil
}

// NeedMorePendingTasks implements Master: true while the pending queue
// holds fewer tasks than there are slots.
func (p *Parallel) NeedMorePendingTasks() bool {
	if p.draining || p.terminate {
		return false
	}
	return p.pending.Len() < len(p.managers)
}

// Iterate implements Master.
func (p *Parallel) Iterate() {
	if !p.draining && !p.terminate {
		for i, m := range p.managers {
			if p.slotTask[i] != nil || m.State() != manager.Idle || p.pending.Empty() {
				continue
			}
			t := p.pending.PopFront()
			if err := m.Submit(t); err == nil {
				p.slotTask[i] = t
				p.startedAt[t] = time.Now()
			}
		}
	}

	idle, busy := 0, 0
	for i, m := range p.managers {
		m.Iterate()
		if done, ok := m.TakeFinished(); ok {
			start, hadStart := p.startedAt[done]
			delete(p.startedAt, done)
			if p.draining {
				p.slotTask[i] = nil
			} else {
				seq := p.seqOf[done]
				delete(p.seqOf, done)
				p.finish.complete(seq, done)
				p.slotTask[i] = nil
				if p.metrics != nil && hadStart {
					p.metrics.RecordFinished(time.Since(start).Seconds(), done.ErrorCode())
				}
			}
		}
		if p.slotTask[i] == nil {
			idle++
		} else {
			busy++
		}
	}
	if p.metrics != nil {
		p.metrics.SetSlotStats(idle, busy)
	}
}

// PopFinished implements Master.
func (p *Parallel) PopFinished() (*task.Task, bool) {
	return p.finish.pop()
}

// Drained implements Master.
func (p *Parallel) Drained() bool {
	if !p.pending.Empty() {
		return false
	}
	for _, t := range p.slotTask {
		if t != nil {
			return false
		}
	}
	return true
}

// RequestFlush begins draining: no new tasks are dispatched to slots,
// the pending queue and any already-released finished tasks are
// dropped, and any slot that completes while draining is discarded
// instead of released. Idempotent.
func (p *Parallel) RequestFlush() {
	if p.draining {
		return
	}
	p.draining = true
	p.pending.Clear()
	p.finish = newOrderedFinish()
	p.seqOf = make(map[*task.Task]uint64)
}

// FlushComplete reports whether a requested flush has fully drained:
// every slot idle.
func (p *Parallel) FlushComplete() bool {
	if !p.draining {
		return false
	}
	for _, t := range p.slotTask {
		if t != nil {
			return false
		}
	}
	return true
}

// ResetFlush clears the flush barrier, resuming normal dispatch. Callers
// should only call this once FlushComplete reports true.
func (p *Parallel) ResetFlush() {
	p.draining = false
}

// RequestTerminate implements Master.
func (p *Parallel) RequestTerminate() {
	p.terminate = true
	for _, m := range p.managers {
		m.RequestTermination()
	}
}

// Terminated implements Master.
func (p *Parallel) Terminated() bool {
	for _, m := range p.managers {
		if !m.Terminated() {
			return false
		}
	}
	return true
}
