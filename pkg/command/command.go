package command

import (
	"github.com/posebridge/posebridge-go/pkg/pose"
)

// Type identifies a command on the wire.
type Type uint8

const (
	TypeIdle         Type = 0
	TypeHeadingReset Type = 1
	TypePoseReset    Type = 2
	TypePing         Type = 3
)

// String returns the command type name.
func (t Type) String() string {
	switch t {
	case TypeIdle:
		return "IDLE"
	case TypeHeadingReset:
		return "HEADING_RESET"
	case TypePoseReset:
		return "POSE_RESET"
	case TypePing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Command is one of Idle, HeadingReset, PoseReset or Ping.
type Command interface {
	Type() Type
	command()
}

// Idle means no command is pending.
type Idle struct{}

// HeadingReset zeroes the yaw of the tracked pose.
type HeadingReset struct{}

// PoseReset moves the tracked pose to Target.
type PoseReset struct {
	Target pose.Pose3d
}

// Ping checks that commands get through.
type Ping struct{}

func (Idle) Type() Type         { return TypeIdle }
func (HeadingReset) Type() Type { return TypeHeadingReset }
func (PoseReset) Type() Type    { return TypePoseReset }
func (Ping) Type() Type         { return TypePing }

func (Idle) command()         {}
func (HeadingReset) command() {}
func (PoseReset) command()    {}
func (Ping) command()         {}

// Envelope is a command with the issuer's identifier. IDs increase
// monotonically; zero is never a real command.
type Envelope struct {
	ID      uint32
	Command Command
}

// Response reports the outcome of a command.
type Response struct {
	ID           uint32
	Success      bool
	ErrorMessage string
}
