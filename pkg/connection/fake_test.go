package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/transport"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

type inbound struct {
	typ  transport.MessageType
	data []byte
}

// peerConn is an in-memory controller. It echoes clock sync and, while
// answer reports true, echoes heartbeat requests onto a response topic it
// announces as id 1.
type peerConn struct {
	addr   string
	in     chan inbound
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	requests map[int64]string
	answer   func(counter int64) bool
}

func newPeerConn(addr string) *peerConn {
	return &peerConn{
		addr:     addr,
		in:       make(chan inbound, 64),
		closed:   make(chan struct{}),
		requests: make(map[int64]string),
	}
}

func (c *peerConn) ReadMessage() (transport.MessageType, []byte, error) {
	select {
	case m := <-c.in:
		return m.typ, m.data, nil
	case <-c.closed:
		return 0, nil, transport.ErrConnectionClosed
	}
}

func (c *peerConn) WriteText(data []byte) error {
	if c.isClosed() {
		return transport.ErrConnectionClosed
	}
	msgs, err := wire.DecodeControl(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if m.Method != wire.MethodPublish {
			continue
		}
		p, err := wire.DecodeParams[wire.PublishParams](m, m.Method)
		if err != nil {
			return err
		}
		c.requests[p.PubUID] = p.Name
	}
	return nil
}

func (c *peerConn) WriteBinary(data []byte) error {
	if c.isClosed() {
		return transport.ErrConnectionClosed
	}
	frames, err := wire.DecodeFrames(data)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if f.IsClockSync() {
			c.push(wire.Frame{TopicID: -1, Timestamp: time.Now().UnixMicro(), Type: wire.TypeInt, Value: f.Value})
			continue
		}
		c.mu.Lock()
		name := c.requests[f.TopicID]
		answer := c.answer
		c.mu.Unlock()
		if name == "/posebridge/heartbeat/request" && answer != nil && answer(f.Value.(int64)) {
			c.push(wire.Frame{TopicID: 1, Timestamp: f.Timestamp, Type: wire.TypeInt, Value: f.Value})
		}
	}
	return nil
}

func (c *peerConn) push(f wire.Frame) {
	data, err := wire.EncodeFrames(f)
	if err != nil {
		panic(err)
	}
	select {
	case c.in <- inbound{transport.BinaryMessage, data}:
	case <-c.closed:
	}
}

func (c *peerConn) announceResponse() {
	data, err := wire.EncodeControl(wire.ControlMessage{
		Method: wire.MethodAnnounce,
		Params: []byte(`{"name":"/posebridge/heartbeat/response","id":1,"type":"int","properties":{}}`),
	})
	if err != nil {
		panic(err)
	}
	c.in <- inbound{transport.TextMessage, data}
}

func (c *peerConn) RemoteAddr() string { return c.addr }

func (c *peerConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *peerConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer routes addresses to behaviors.
type fakeDialer struct {
	mu    sync.Mutex
	calls []string
	conns []*peerConn

	// hang lists addresses that block until the context ends.
	hang map[string]bool
	// accept lists addresses that connect.
	accept map[string]bool
	// onConn customizes each accepted connection.
	onConn func(*peerConn)

	release chan struct{}
	dials   atomic.Int32
}

var errRefused = errors.New("connection refused")

func (d *fakeDialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.calls = append(d.calls, address)
	hang, accept, release := d.hang[address], d.accept[address], d.release
	d.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !accept {
		return nil, errRefused
	}

	c := newPeerConn(address)
	if d.onConn != nil {
		d.onConn(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) callList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDialer) lastConn() *peerConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// manualClock is a settable clock for clientctx.WithClock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

var alwaysUp = ProbeFunc(func() bool { return true })
