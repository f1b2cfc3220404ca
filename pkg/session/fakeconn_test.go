package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/transport"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

type message struct {
	typ  transport.MessageType
	data []byte
}

// fakeConn is an in-memory transport.Conn. Tests push inbound messages
// with deliver and inspect what the session wrote with written.
type fakeConn struct {
	in       chan message
	closed   chan struct{}
	once     sync.Once
	readErr  chan error
	writeErr error

	mu  sync.Mutex
	out []message
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan message, 16),
		closed:  make(chan struct{}),
		readErr: make(chan error, 1),
	}
}

func (c *fakeConn) ReadMessage() (transport.MessageType, []byte, error) {
	select {
	case m := <-c.in:
		return m.typ, m.data, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, transport.ErrConnectionClosed
	}
}

func (c *fakeConn) write(t transport.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return transport.ErrConnectionClosed
	default:
	}
	c.out = append(c.out, message{t, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) WriteText(data []byte) error   { return c.write(transport.TextMessage, data) }
func (c *fakeConn) WriteBinary(data []byte) error { return c.write(transport.BinaryMessage, data) }
func (c *fakeConn) RemoteAddr() string            { return "10.58.12.2:5810" }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.out...)
}

func (c *fakeConn) deliverControl(t *testing.T, msgs ...wire.ControlMessage) {
	t.Helper()
	data, err := wire.EncodeControl(msgs...)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- message{transport.TextMessage, data}
}

func (c *fakeConn) deliverFrames(t *testing.T, frames ...wire.Frame) {
	t.Helper()
	data, err := wire.EncodeFrames(frames...)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- message{transport.BinaryMessage, data}
}

func (c *fakeConn) failRead(err error) {
	c.readErr <- err
}

// controlMessages decodes every text message written so far.
func (c *fakeConn) controlMessages(t *testing.T) []wire.ControlMessage {
	t.Helper()
	var out []wire.ControlMessage
	for _, m := range c.written() {
		if m.typ != transport.TextMessage {
			continue
		}
		msgs, err := wire.DecodeControl(m.data)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, msgs...)
	}
	return out
}

// valueFrames decodes every binary message written so far.
func (c *fakeConn) valueFrames(t *testing.T) []wire.Frame {
	t.Helper()
	var out []wire.Frame
	for _, m := range c.written() {
		if m.typ != transport.BinaryMessage {
			continue
		}
		frames, err := wire.DecodeFrames(m.data)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, frames...)
	}
	return out
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

var errBoom = errors.New("boom")
