package transport

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/posebridge/posebridge-go/pkg/log"
)

// MessageType is the WebSocket message type.
type MessageType int

const (
	// TextMessage carries JSON control messages.
	TextMessage MessageType = websocket.TextMessage
	// BinaryMessage carries MessagePack value frames.
	BinaryMessage MessageType = websocket.BinaryMessage
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "TEXT"
	case BinaryMessage:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// Conn is one open WebSocket connection.
// Implemented by ClientConn and ServerConn.
type Conn interface {
	// ReadMessage blocks for the next text or binary message.
	ReadMessage() (MessageType, []byte, error)

	// WriteText sends a text message.
	WriteText(data []byte) error

	// WriteBinary sends a binary message.
	WriteBinary(data []byte) error

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Dialer opens client connections.
// Implemented by Client.
type Dialer interface {
	// Dial connects to address, which is a host or host:port. The context
	// bounds the whole attempt.
	Dial(ctx context.Context, address string) (Conn, error)
}

// Capturer is implemented by connections that can record their traffic
// to a protocol capture.
type Capturer interface {
	SetLogger(logger log.Logger, connID string)
}

// Compile-time interface satisfaction checks.
var (
	_ Conn     = (*ClientConn)(nil)
	_ Conn     = (*ServerConn)(nil)
	_ Dialer   = (*Client)(nil)
	_ Capturer = (*ClientConn)(nil)
	_ Capturer = (*ServerConn)(nil)
)
