package command

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/pose"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	target := pose.Pose3d{
		Translation: pose.Translation{X: 1, Y: 2, Z: 3},
		Rotation:    pose.Quaternion{W: 0.7071, Z: 0.7071},
	}
	tests := []struct {
		name string
		env  Envelope
	}{
		{"Idle", Envelope{ID: 0, Command: Idle{}}},
		{"HeadingReset", Envelope{ID: 7, Command: HeadingReset{}}},
		{"PoseReset", Envelope{ID: 8, Command: PoseReset{Target: target}}},
		{"Ping", Envelope{ID: 0xFFFFFFFF, Command: Ping{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalEnvelope(MarshalEnvelope(tt.env))
			if err != nil {
				t.Fatalf("UnmarshalEnvelope: %v", err)
			}
			if got != tt.env {
				t.Errorf("got %+v, want %+v", got, tt.env)
			}
		})
	}
}

func TestMarshalEnvelopeNilCommand(t *testing.T) {
	got, err := UnmarshalEnvelope(MarshalEnvelope(Envelope{ID: 3}))
	if err != nil {
		t.Fatal(err)
	}
	if got.Command.Type() != TypeIdle {
		t.Errorf("Type = %v, want IDLE", got.Command.Type())
	}
}

func TestUnmarshalEnvelopeErrors(t *testing.T) {
	unknown := protowire.AppendTag(nil, envelopeType, protowire.VarintType)
	unknown = protowire.AppendVarint(unknown, 42)

	bigID := protowire.AppendTag(nil, envelopeID, protowire.VarintType)
	bigID = protowire.AppendVarint(bigID, 1<<33)

	full := MarshalEnvelope(Envelope{ID: 9, Command: PoseReset{Target: pose.Pose3d{Rotation: pose.Identity()}}})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"UnknownType", unknown, ErrUnknownCommand},
		{"IDOverflow", bigID, ErrMalformedEnvelope},
		{"Truncated", full[:len(full)-2], ErrMalformedEnvelope},
		{"Garbage", []byte{0xFF}, ErrMalformedEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEnvelope(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if !fault.Is(err, fault.Protocol) {
				t.Errorf("class = %v, want protocol", fault.ClassOf(err))
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []Response{
		{ID: 1, Success: true},
		{ID: 2, Success: false, ErrorMessage: "invalid command payload: rotation quaternion has zero norm"},
		{ID: 0},
	}
	for _, want := range tests {
		got, err := UnmarshalResponse(MarshalResponse(want))
		if err != nil {
			t.Fatalf("UnmarshalResponse(%+v): %v", want, err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Idle{}, "IDLE"},
		{HeadingReset{}, "HEADING_RESET"},
		{PoseReset{}, "POSE_RESET"},
		{Ping{}, "PING"},
	}
	for _, tt := range tests {
		if got := tt.cmd.Type().String(); got != tt.want {
			t.Errorf("%T.Type() = %s, want %s", tt.cmd, got, tt.want)
		}
	}
	if Type(99).String() != "UNKNOWN" {
		t.Error("unknown type string")
	}
}
