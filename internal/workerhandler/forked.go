package workerhandler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/task"
)

// ErrBusy is returned by Start when a task is already in flight.
var ErrBusy = errors.New("workerhandler: already busy")

type forkedResult struct {
	output string
	code   int
	err    error
}

// ForkedHandle execs cmd fresh for every task, feeding the task's input
// on stdin and capturing stdout. Termination escalates from SIGTERM to
// SIGKILL after killTimeout, matching the original ForkedWorkerHandler's
// three-step shutdown. Each exec.Cmd is Wait()ed by exactly one
// goroutine, so the kernel's waitpid is never raced.
type ForkedHandle struct {
	cmd           command.Command
	killTimeout   time.Duration
	discardStderr bool

	mu         sync.Mutex
	proc       *exec.Cmd
	task       *task.Task
	resultCh   chan forkedResult
	exited     chan struct{}
	terminated bool
}

// NewForkedHandle returns a Handle that execs cmd once per task.
func NewForkedHandle(cmd command.Command, killTimeout time.Duration, discardStderr bool) *ForkedHandle {
	return &ForkedHandle{cmd: cmd, killTimeout: killTimeout, discardStderr: discardStderr}
}

// Start implements Handle.
func (h *ForkedHandle) Start(t *task.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task != nil {
		return ErrBusy
	}
	if h.terminated {
		return fmt.Errorf("workerhandler: terminated")
	}

	proc := h.cmd.Cmd()
	proc.Stdin = strings.NewReader(t.Input())
	var stdout bytes.Buffer
	proc.Stdout = &stdout
	if !h.discardStderr {
		proc.Stderr = os.Stderr
	}

	if err := proc.Start(); err != nil {
		return fmt.Errorf("workerhandler: starting %s: %w", h.cmd.String(), err)
	}

	h.proc = proc
	h.task = t
	h.resultCh = make(chan forkedResult, 1)
	h.exited = make(chan struct{})

	exited := h.exited
	resultCh := h.resultCh
	go func() {
		waitErr := proc.Wait()
		close(exited)
		if waitErr != nil {
			var ee *exec.ExitError
			if errors.As(waitErr, &ee) {
				resultCh <- forkedResult{output: stdout.String(), code: ee.ExitCode()}
				return
			}
			resultCh <- forkedResult{err: waitErr}
			return
		}
		resultCh <- forkedResult{output: stdout.String(), code: 0}
	}()

	return nil
}

// Poll implements Handle.
func (h *ForkedHandle) Poll() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task == nil {
		return false
	}
	select {
	case r := <-h.resultCh:
		t := h.task
		h.task, h.proc, h.resultCh, h.exited = nil, nil, nil, nil
		if r.err != nil {
			_ = t.RecordResult("", -1)
		} else {
			_ = t.RecordResult(r.output, r.code)
		}
		return true
	default:
		return false
	}
}

// Busy implements Handle.
func (h *ForkedHandle) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task != nil
}

// Terminate implements Handle. It is safe to call repeatedly; only the
// first call against a given in-flight process starts the escalation.
func (h *ForkedHandle) Terminate() {
	h.mu.Lock()
	proc := h.proc
	exited := h.exited
	already := h.terminated
	h.terminated = true
	h.mu.Unlock()

	if already || proc == nil || proc.Process == nil {
		return
	}

	_ = proc.Process.Signal(syscall.SIGTERM)
	go func() {
		timer := time.NewTimer(h.killTimeout)
		defer timer.Stop()
		select {
		case <-exited:
		case <-timer.C:
			_ = proc.Process.Kill()
		}
	}()
}

// Terminated implements Handle.
func (h *ForkedHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}
