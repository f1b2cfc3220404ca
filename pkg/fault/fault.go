// Package fault classifies errors raised by the client into the four
// handling classes the tick loop distinguishes.
package fault

import "fmt"

// Class is the handling class of an error.
type Class uint8

const (
	// Unknown is the class of unclassified errors.
	Unknown Class = iota
	// Transport errors (connect failed, socket closed) are recorded against
	// the candidate and retried by the supervisor.
	Transport
	// Protocol errors (malformed frame, type mismatch) drop the offending
	// frame; processing continues.
	Protocol
	// Liveness errors (heartbeat threshold reached) force the session
	// closed and are then handled like Transport.
	Liveness
	// Command errors are reported in the command response.
	Command
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Liveness:
		return "liveness"
	case Command:
		return "command"
	default:
		return "unknown"
	}
}

// Error is a sentinel error carrying its class. Compare with errors.Is.
type Error struct {
	Class Class
	msg   string
}

// New returns a classified sentinel.
func New(class Class, msg string) error {
	return &Error{Class: class, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Classified wraps an arbitrary error with a class.
type Classified struct {
	Class Class
	Op    string
	Err   error
}

func (e *Classified) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Classified) Unwrap() error { return e.Err }

// Wrap classifies err. It returns nil when err is nil.
func Wrap(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Class: class, Op: op, Err: err}
}

// Wrapf classifies a formatted error; %w verbs are honoured.
func Wrapf(class Class, format string, args ...any) error {
	return &Classified{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the class of the outermost classified error in err's
// tree, or Unknown.
func ClassOf(err error) Class {
	switch e := err.(type) {
	case nil:
		return Unknown
	case *Classified:
		return e.Class
	case *Error:
		return e.Class
	case interface{ Unwrap() error }:
		return ClassOf(e.Unwrap())
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if c := ClassOf(inner); c != Unknown {
				return c
			}
		}
	}
	return Unknown
}

// Is reports whether err belongs to class.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}
