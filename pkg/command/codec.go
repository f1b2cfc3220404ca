package command

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/pose"
)

// Codec errors.
var (
	ErrMalformedEnvelope = fault.New(fault.Protocol, "malformed command envelope")
	ErrUnknownCommand    = fault.New(fault.Protocol, "unknown command type")
	ErrMalformedResponse = fault.New(fault.Protocol, "malformed command response")
)

// Envelope fields.
const (
	envelopeType      protowire.Number = 1
	envelopeID        protowire.Number = 2
	envelopePoseReset protowire.Number = 3
)

// Response fields.
const (
	responseID      protowire.Number = 1
	responseSuccess protowire.Number = 2
	responseError   protowire.Number = 3
)

// MarshalEnvelope encodes e. A nil command encodes as Idle.
func MarshalEnvelope(e Envelope) []byte {
	cmd := e.Command
	if cmd == nil {
		cmd = Idle{}
	}
	var b []byte
	b = protowire.AppendTag(b, envelopeType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cmd.Type()))
	b = protowire.AppendTag(b, envelopeID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ID))
	if pr, ok := cmd.(PoseReset); ok {
		b = pr.Target.AppendField(b, envelopePoseReset)
	}
	return b
}

// UnmarshalEnvelope decodes an envelope. A pose-reset envelope without a
// target decodes with a zero target, which fails validation later.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var (
		typ    uint64
		id     uint64
		target pose.Pose3d
	)
	err := pose.Walk(b, func(num protowire.Number, wt protowire.Type, v []byte) (int, error) {
		switch {
		case num == envelopeType && wt == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			typ = x
			return n, nil
		case num == envelopeID && wt == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			id = x
			return n, nil
		case num == envelopePoseReset && wt == protowire.BytesType:
			body, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			p, err := pose.Unmarshal(body)
			target = p
			return n, err
		default:
			return pose.Skip(num, wt, v)
		}
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if id > 0xFFFFFFFF {
		return Envelope{}, fmt.Errorf("%w: command id %d out of range", ErrMalformedEnvelope, id)
	}

	env := Envelope{ID: uint32(id)}
	switch Type(typ) {
	case TypeIdle:
		env.Command = Idle{}
	case TypeHeadingReset:
		env.Command = HeadingReset{}
	case TypePoseReset:
		env.Command = PoseReset{Target: target}
	case TypePing:
		env.Command = Ping{}
	default:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownCommand, typ)
	}
	return env, nil
}

// MarshalResponse encodes r.
func MarshalResponse(r Response) []byte {
	var b []byte
	b = protowire.AppendTag(b, responseID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ID))
	b = protowire.AppendTag(b, responseSuccess, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Success))
	if r.ErrorMessage != "" {
		b = protowire.AppendTag(b, responseError, protowire.BytesType)
		b = protowire.AppendString(b, r.ErrorMessage)
	}
	return b
}

// UnmarshalResponse decodes a response.
func UnmarshalResponse(b []byte) (Response, error) {
	var r Response
	err := pose.Walk(b, func(num protowire.Number, wt protowire.Type, v []byte) (int, error) {
		switch {
		case num == responseID && wt == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.ID = uint32(x)
			return n, nil
		case num == responseSuccess && wt == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.Success = protowire.DecodeBool(x)
			return n, nil
		case num == responseError && wt == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			r.ErrorMessage = s
			return n, nil
		default:
			return pose.Skip(num, wt, v)
		}
	})
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return r, nil
}
