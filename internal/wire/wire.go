// Package wire implements the cross-process message fabric described in
// spec.md §6: typed, tagged channels carrying task input/output strings,
// error codes and control signals between a Manager's PeerHandle and a
// persistent peer worker process. Master and Managers talk through
// in-process method calls and do not use it.
//
// Go has no MPI binding in the example corpus this module was grounded
// on, so the "intercommunicator" of the original implementation is
// realized here as a length-prefixed gob frame protocol running over the
// stdin/stdout pipes of a child process started with os/exec. Each
// logical tag class gets its own buffered(1) channel on the receive
// side, mirroring the "at most one outstanding request per channel"
// invariant from spec.md §4.3.
package wire

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Tag identifies which logical channel a frame belongs to.
type Tag byte

const (
	// TagMessage carries a string payload (task input or output).
	TagMessage Tag = iota
	// TagSignal carries a small integer control signal.
	TagSignal
	// TagErrorCode carries a simulator error code.
	TagErrorCode
)

type frame struct {
	Tag Tag
	Str string
	Int int
}

// Conn is one end of a typed message channel, symmetric in both
// directions: either side may Send or TryRecv on any tag, with the
// PeerHandle and the peer process deciding which tags flow which way.
type Conn struct {
	enc *gob.Encoder
	dec *gob.Decoder
	wc  io.Closer

	writeMu sync.Mutex

	messageCh   chan string
	signalCh    chan int
	errorCodeCh chan int

	done    chan struct{}
	readErr error
	mu      sync.Mutex
}

// New wraps rw in a Conn and starts its background frame reader. Closing
// the returned Conn closes rw.
func New(rw io.ReadWriteCloser) *Conn {
	c := &Conn{
		enc:         gob.NewEncoder(rw),
		dec:         gob.NewDecoder(rw),
		wc:          rw,
		messageCh:   make(chan string, 1),
		signalCh:    make(chan int, 1),
		errorCodeCh: make(chan int, 1),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		var f frame
		if err := c.dec.Decode(&f); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		switch f.Tag {
		case TagMessage:
			c.messageCh <- f.Str
		case TagSignal:
			c.signalCh <- f.Int
		case TagErrorCode:
			c.errorCodeCh <- f.Int
		}
	}
}

// send writes f to the wire. Only one goroutine is expected to write to a
// Conn's message tag and one to its signal tag concurrently (matching the
// "one outstanding request" discipline), but send itself is safe for
// concurrent callers across tags.
func (c *Conn) send(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(f); err != nil {
		return fmt.Errorf("wire: send: %w", err)
	}
	return nil
}

// SendMessage sends a string payload (task input or output) on the
// message tag.
func (c *Conn) SendMessage(s string) error {
	return c.send(frame{Tag: TagMessage, Str: s})
}

// SendSignal sends an integer control signal.
func (c *Conn) SendSignal(n int) error {
	return c.send(frame{Tag: TagSignal, Int: n})
}

// SendErrorCode sends a simulator error code.
func (c *Conn) SendErrorCode(n int) error {
	return c.send(frame{Tag: TagErrorCode, Int: n})
}

// TryRecvMessage performs a non-blocking poll for a pending message.
func (c *Conn) TryRecvMessage() (string, bool) {
	select {
	case s := <-c.messageCh:
		return s, true
	default:
		return "", false
	}
}

// TryRecvSignal performs a non-blocking poll for a pending signal.
func (c *Conn) TryRecvSignal() (int, bool) {
	select {
	case n := <-c.signalCh:
		return n, true
	default:
		return 0, false
	}
}

// TryRecvErrorCode performs a non-blocking poll for a pending error code.
func (c *Conn) TryRecvErrorCode() (int, bool) {
	select {
	case n := <-c.errorCodeCh:
		return n, true
	default:
		return 0, false
	}
}

// Err returns the error that terminated the read loop, if any, once the
// peer has disconnected.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(c.readErr, io.EOF) {
		return nil
	}
	return c.readErr
}

// Disconnected reports whether the peer has closed its end of the
// connection (the read loop has exited).
func (c *Conn) Disconnected() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.wc.Close()
}
