package workerhandler

import (
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/ChuLiYu/pakman/pkg/command"
	"github.com/ChuLiYu/pakman/pkg/task"

	"github.com/ChuLiYu/pakman/internal/wire"
)

// Signal values exchanged between a Manager and a persistent peer
// worker's control tag, mirroring the TERMINATE_WORKER signal from
// spec.md §5.2.
const (
	SignalTerminateWorker = 1
)

// stdioConn adapts a child process's separately-piped stdin/stdout into
// a single io.ReadWriteCloser so it can be wrapped in a wire.Conn.
type stdioConn struct {
	io.ReadCloser
	w io.WriteCloser
}

func (c stdioConn) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c stdioConn) Close() error {
	werr := c.w.Close()
	rerr := c.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// PeerHandle keeps a single long-lived child process alive across many
// tasks, feeding each one over the internal/wire message fabric instead
// of re-execing. The Manager that is given a PeerHandle owns its entire
// lifetime; PeerHandle keeps no package-level registry of live peers
// (spec.md §9, resolved open question on spawned-worker lifetime).
type PeerHandle struct {
	proc *exec.Cmd
	conn *wire.Conn

	mu         sync.Mutex
	task       *task.Task
	haveOutput bool
	output     string
	haveCode   bool
	code       int
	terminated bool
}

// NewPeerHandle starts cmd as a persistent child process and wraps its
// stdio in the message fabric.
func NewPeerHandle(cmd command.Command) (*PeerHandle, error) {
	proc := cmd.Cmd()
	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("workerhandler: peer stdin pipe: %w", err)
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("workerhandler: peer stdout pipe: %w", err)
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("workerhandler: starting peer %s: %w", cmd.String(), err)
	}
	conn := wire.New(stdioConn{ReadCloser: stdout, w: stdin})
	return &PeerHandle{proc: proc, conn: conn}, nil
}

// Start implements Handle: sends t's input as a message frame. The peer
// is expected to reply with exactly one message frame (output) followed
// by one error-code frame, in either order.
func (h *PeerHandle) Start(t *task.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task != nil {
		return ErrBusy
	}
	if h.terminated {
		return fmt.Errorf("workerhandler: peer terminated")
	}
	if err := h.conn.SendMessage(t.Input()); err != nil {
		return fmt.Errorf("workerhandler: sending task to peer: %w", err)
	}
	h.task = t
	h.haveOutput, h.haveCode = false, false
	return nil
}

// Poll implements Handle.
func (h *PeerHandle) Poll() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.task == nil {
		return false
	}
	if !h.haveOutput {
		if s, ok := h.conn.TryRecvMessage(); ok {
			h.output, h.haveOutput = s, true
		}
	}
	if !h.haveCode {
		if n, ok := h.conn.TryRecvErrorCode(); ok {
			h.code, h.haveCode = n, true
		}
	}
	if h.conn.Disconnected() && !(h.haveOutput && h.haveCode) {
		t := h.task
		h.task = nil
		h.terminated = true
		_ = t.RecordResult("", -1)
		return true
	}
	if h.haveOutput && h.haveCode {
		t := h.task
		h.task = nil
		_ = t.RecordResult(h.output, h.code)
		return true
	}
	return false
}

// Busy implements Handle.
func (h *PeerHandle) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task != nil
}

// Terminate implements Handle: asks the peer to exit cooperatively via a
// control signal, then reaps it once it does.
func (h *PeerHandle) Terminate() {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.mu.Unlock()

	_ = h.conn.SendSignal(SignalTerminateWorker)
	go func() {
		_ = h.conn.Close()
		_ = h.proc.Wait()
	}()
}

// Terminated implements Handle.
func (h *PeerHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}
