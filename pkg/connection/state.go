package connection

import (
	"errors"

	"github.com/posebridge/posebridge-go/pkg/fault"
)

// Supervisor errors.
var (
	ErrSupervisorClosed = errors.New("supervisor closed")
	ErrNoCandidates     = errors.New("no connection candidates")
	ErrConnectTimeout   = fault.New(fault.Transport, "connection timeout")
	ErrResolve          = fault.New(fault.Transport, "address resolution failed")
	ErrSessionRejected  = fault.New(fault.Transport, "session failed to open")

	// ErrTriggered closes a session on request.
	ErrTriggered = fault.New(fault.Transport, "reconnect requested")
)

// State represents the supervisor state.
type State uint8

const (
	// StateDisconnected indicates no session and no cycle in flight.
	StateDisconnected State = iota

	// StateConnecting indicates a candidate cycle is in flight.
	StateConnecting

	// StateConnected indicates an open session.
	StateConnected

	// StateClosed indicates the supervisor has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
