package master

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/pakman/internal/manager"
	"github.com/ChuLiYu/pakman/internal/metrics"
	"github.com/ChuLiYu/pakman/internal/workerhandler"
	"github.com/ChuLiYu/pakman/pkg/task"
)

// Serial drives a single Manager synchronously: at most one task is
// ever in flight. It is the simplest Master variant and the one
// spec.md §8 scenario 1 exercises directly.
type Serial struct {
	mgr     *manager.Manager
	pending *task.Queue
	seqOf   map[*task.Task]uint64
	finish  *orderedFinish

	current   *task.Task
	startedAt map[*task.Task]time.Time
	draining  bool
	terminate bool

	metrics *metrics.Collector
}

// NewSerial returns a Serial master driving a single worker handler.
func NewSerial(handle workerhandler.Handle) *Serial {
	return &Serial{
		mgr:       manager.New(handle),
		pending:   task.NewQueue(),
		seqOf:     make(map[*task.Task]uint64),
		finish:    newOrderedFinish(),
		startedAt: make(map[*task.Task]time.Time),
	}
}

// AttachMetrics wires a Collector into the Master so every push,
// completion, and slot-occupancy change is recorded as it happens. A
// nil or never-attached Collector is a silent no-op.
func (s *Serial) AttachMetrics(c *metrics.Collector) {
	s.metrics = c
}

// Push implements Master.
func (s *Serial) Push(t *task.Task) error {
	if s.draining {
		return fmt.Errorf("master: cannot push while flushing")
	}
	seq := s.finish.assignSeq()
	s.seqOf[t] = seq
	s.pending.PushBack(t)
	if s.metrics != nil {
		s.metrics.RecordPush()
	}
	return nil
}

// NeedMorePendingTasks implements Master: true while the pending queue
// is empty, the Serial master's single slot.
func (s *Serial) NeedMorePendingTasks() bool {
	if s.draining || s.terminate {
		return false
	}
	return s.pending.Len() < 1
}

// Iterate implements Master.
func (s *Serial) Iterate() {
	if !s.draining && !s.terminate && s.current == nil && !s.pending.Empty() && s.mgr.State() == manager.Idle {
		t := s.pending.PopFront()
		if err := s.mgr.Submit(t); err == nil {
			s.current = t
			s.startedAt[t] = time.Now()
		}
	}

	s.mgr.Iterate()

	if done, ok := s.mgr.TakeFinished(); ok {
		start, hadStart := s.startedAt[done]
		delete(s.startedAt, done)
		if s.draining {
			s.current = nil
		} else {
			seq := s.seqOf[done]
			delete(s.seqOf, done)
			s.finish.complete(seq, done)
			s.current = nil
			if s.metrics != nil && hadStart {
				s.metrics.RecordFinished(time.Since(start).Seconds(), done.ErrorCode())
			}
		}
	}

	if s.terminate && s.current == nil {
		s.mgr.RequestTermination()
	}

	if s.metrics != nil {
		if s.current == nil {
			s.metrics.SetSlotStats(1, 0)
		} else {
			s.metrics.SetSlotStats(0, 1)
		}
	}
}

// PopFinished implements Master.
func (s *Serial) PopFinished() (*task.Task, bool) {
	return s.finish.pop()
}

// Drained implements Master.
func (s *Serial) Drained() bool {
	return s.pending.Empty() && s.current == nil
}

// RequestFlush implements Master. With only one slot there is nothing
// to resequence across a flush: the pending queue is simply dropped and
// any task already in flight is discarded, rather than released,
// once it completes.
func (s *Serial) RequestFlush() {
	if s.draining {
		return
	}
	s.draining = true
	s.pending.Clear()
	s.finish = newOrderedFinish()
	s.seqOf = make(map[*task.Task]uint64)
}

// FlushComplete implements Master.
func (s *Serial) FlushComplete() bool {
	return s.draining && s.current == nil
}

// ResetFlush implements Master.
func (s *Serial) ResetFlush() {
	s.draining = false
}

// RequestTerminate implements Master.
func (s *Serial) RequestTerminate() {
	s.terminate = true
	if s.current == nil {
		s.mgr.RequestTermination()
	}
}

// Terminated implements Master.
func (s *Serial) Terminated() bool {
	return s.mgr.Terminated()
}
