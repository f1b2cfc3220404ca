package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID is the session identifier (UUID). Supervisor events
	// carry an empty ID.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// ClientName is the name the client connected with.
	ClientName string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (host:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Supervisor/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // WebSocket ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the WebSocket layer (raw message bytes).
	LayerTransport Layer = 0
	// LayerWire is the protocol layer (decoded control and value frames).
	LayerWire Layer = 1
	// LayerApp covers the supervisor, heartbeat and command dispatcher.
	LayerApp Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerApp:
		return "APP"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (control or value).
	CategoryMessage Category = 0
	// CategoryControl indicates a WebSocket control frame (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameKind is the WebSocket message type of a captured frame.
type FrameKind uint8

const (
	// FrameText is a text (JSON control) message.
	FrameText FrameKind = 0
	// FrameBinary is a binary (MessagePack value) message.
	FrameBinary FrameKind = 1
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "TEXT"
	case FrameBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw message data at the transport layer.
type FrameEvent struct {
	// Kind is the WebSocket message type.
	Kind FrameKind `cbor:"1,keyasint"`

	// Size is the message size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw message bytes (may be truncated for large messages).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message at the wire layer.
type MessageEvent struct {
	// Type distinguishes control messages from value frames.
	Type MessageType `cbor:"1,keyasint"`

	// Method is the control method (publish, announce, ...).
	Method string `cbor:"2,keyasint,omitempty"`

	// Topic is the topic name, when known.
	Topic string `cbor:"3,keyasint,omitempty"`

	// TopicID is the wire identifier of a value frame.
	TopicID int64 `cbor:"4,keyasint,omitempty"`

	// DataType is the protocol type string of the value.
	DataType string `cbor:"5,keyasint,omitempty"`

	// TimestampMicros is the frame timestamp.
	TimestampMicros int64 `cbor:"6,keyasint,omitempty"`

	// Payload is the decoded value or control params.
	Payload any `cbor:"7,keyasint,omitempty"`
}

// MessageType distinguishes control messages from value frames.
type MessageType uint8

const (
	// MessageTypeControl indicates a JSON control message.
	MessageTypeControl MessageType = 0
	// MessageTypeValue indicates a topic value frame.
	MessageTypeValue MessageType = 1
	// MessageTypeClockSync indicates a clock-sync frame.
	MessageTypeClockSync MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeControl:
		return "CONTROL"
	case MessageTypeValue:
		return "VALUE"
	case MessageTypeClockSync:
		return "CLOCKSYNC"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures supervisor and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySupervisor indicates a reconnection supervisor state change.
	StateEntitySupervisor StateEntity = 0
	// StateEntitySession indicates a session open/close.
	StateEntitySession StateEntity = 1
	// StateEntityHeartbeat indicates a heartbeat liveness change.
	StateEntityHeartbeat StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySupervisor:
		return "SUPERVISOR"
	case StateEntitySession:
		return "SESSION"
	case StateEntityHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures WebSocket control frames.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is the WebSocket close code for close messages.
	CloseCode *int `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping message.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong message.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates a close message.
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Class is the error class (transport, protocol, liveness, command).
	Class string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`

	// Repeated is the number of identical occurrences collapsed into
	// this event. Zero and one both mean a single occurrence.
	Repeated int `cbor:"5,keyasint,omitempty"`
}
