package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/log"
)

// Connection errors.
var (
	ErrDial             = fault.New(fault.Transport, "dial failed")
	ErrSubprotocol      = fault.New(fault.Transport, "peer did not negotiate a supported subprotocol")
	ErrConnectionClosed = fault.New(fault.Transport, "connection closed")
	ErrKeepAliveTimeout = fault.New(fault.Transport, "keep-alive timeout")
	ErrMessageEmpty     = fault.New(fault.Protocol, "message is empty")
)

const (
	// DefaultMaxMessageSize is the default read limit (1 MB).
	DefaultMaxMessageSize = 1 << 20

	// MaxLogFrameDataSize is the maximum message data included in capture
	// events. Larger messages are truncated.
	MaxLogFrameDataSize = 4096

	// closeGrace bounds the close handshake write.
	closeGrace = time.Second
)

type captureTarget struct {
	logger log.Logger
	connID string
}

// wsConn is the connection core shared by ClientConn and ServerConn.
type wsConn struct {
	ws           *websocket.Conn
	remote       string
	writeTimeout time.Duration

	capture atomic.Pointer[captureTarget]

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
	closeErr  error

	keepAlive     *KeepAlive
	stopKeepAlive context.CancelFunc
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{
		ws:           ws,
		remote:       ws.RemoteAddr().String(),
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
	}
	c.capture.Store(&captureTarget{logger: log.NoopLogger{}})
	return c
}

// SetLogger configures protocol capture for this connection.
// Pass nil to disable capture.
func (c *wsConn) SetLogger(logger log.Logger, connID string) {
	c.capture.Store(&captureTarget{logger: log.OrNoop(logger), connID: connID})
}

// RemoteAddr returns the peer address.
func (c *wsConn) RemoteAddr() string {
	return c.remote
}

// ReadMessage blocks for the next data message. Ping and pong frames are
// handled inside.
func (c *wsConn) ReadMessage() (MessageType, []byte, error) {
	select {
	case <-c.closeCh:
		return 0, nil, c.closedErr()
	default:
	}

	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closeCh:
			return 0, nil, c.closedErr()
		default:
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			c.logControl(log.DirectionIn, log.ControlMsgClose, &ce.Code)
		}
		return 0, nil, fault.Wrap(fault.Transport, "read", err)
	}

	t := MessageType(mt)
	c.logFrame(t, data, log.DirectionIn)
	return t, data, nil
}

// WriteText sends a text message.
func (c *wsConn) WriteText(data []byte) error {
	return c.write(TextMessage, data)
}

// WriteBinary sends a binary message.
func (c *wsConn) WriteBinary(data []byte) error {
	return c.write(BinaryMessage, data)
}

func (c *wsConn) write(t MessageType, data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return c.closedErr()
	default:
	}

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(int(t), data); err != nil {
		return fault.Wrap(fault.Transport, "write", err)
	}

	c.logFrame(t, data, log.DirectionOut)
	return nil
}

// sendPing writes a ping control frame carrying seq.
func (c *wsConn) sendPing(seq uint32) error {
	payload := []byte(fmt.Sprintf("%d", seq))
	if err := c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(closeGrace)); err != nil {
		return err
	}
	c.logControl(log.DirectionOut, log.ControlMsgPing, nil)
	return nil
}

// startKeepAlive begins ping/pong monitoring. A timeout closes the
// connection with ErrKeepAliveTimeout.
func (c *wsConn) startKeepAlive(cfg KeepAliveConfig) {
	ka := NewKeepAlive(cfg, c.sendPing)
	c.ws.SetPongHandler(func(appData string) error {
		c.logControl(log.DirectionIn, log.ControlMsgPong, nil)
		var seq uint32
		if _, err := fmt.Sscanf(appData, "%d", &seq); err == nil {
			ka.Pong(seq)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.keepAlive = ka
	c.stopKeepAlive = cancel
	go func() {
		if err := ka.Run(ctx); errors.Is(err, ErrKeepAliveTimeout) {
			c.closeWith(err)
		}
	}()
}

// Close closes the connection with a normal close frame.
func (c *wsConn) Close() error {
	return c.closeWith(ErrConnectionClosed)
}

func (c *wsConn) closeWith(reason error) error {
	var err error
	c.closeOnce.Do(func() {
		c.closeErr = reason
		close(c.closeCh)
		if c.stopKeepAlive != nil {
			c.stopKeepAlive()
		}

		code := websocket.CloseNormalClosure
		msg := websocket.FormatCloseMessage(code, "")
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); werr == nil {
			c.logControl(log.DirectionOut, log.ControlMsgClose, &code)
		}
		err = c.ws.Close()
	})
	return err
}

// Done is closed when the connection is closed locally.
func (c *wsConn) Done() <-chan struct{} {
	return c.closeCh
}

func (c *wsConn) closedErr() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}

func (c *wsConn) logFrame(t MessageType, data []byte, dir log.Direction) {
	target := c.capture.Load()
	if _, off := target.logger.(log.NoopLogger); off {
		return
	}
	target.logger.Log(makeFrameEvent(target.connID, c.remote, t, data, dir))
}

func (c *wsConn) logControl(dir log.Direction, t log.ControlMsgType, code *int) {
	target := c.capture.Load()
	target.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: target.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   c.remote,
		ControlMsg:   &log.ControlMsgEvent{Type: t, CloseCode: code},
	})
}

// makeFrameEvent creates a capture event for a message.
func makeFrameEvent(connID, remote string, t MessageType, data []byte, dir log.Direction) log.Event {
	kind := log.FrameBinary
	if t == TextMessage {
		kind = log.FrameText
	}
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}
	// Copy so the caller may reuse its buffer.
	frameData = append([]byte(nil), frameData...)

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   remote,
		Frame: &log.FrameEvent{
			Kind:      kind,
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}
