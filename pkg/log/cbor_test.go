package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	code := 1006

	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, got Event)
	}{
		{
			name: "envelope",
			event: Event{
				Timestamp:    ts,
				ConnectionID: "7a1c7e0e-3f0b-4d0e-9a55-0b6c1f5d2e11",
				Direction:    DirectionOut,
				Layer:        LayerWire,
				Category:     CategoryMessage,
				ClientName:   "posebridge-1a2b",
				RemoteAddr:   "10.0.0.2:5810",
			},
			check: func(t *testing.T, got Event) {
				if !got.Timestamp.Equal(ts) {
					t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
				}
				if got.ClientName != "posebridge-1a2b" || got.RemoteAddr != "10.0.0.2:5810" {
					t.Errorf("identity = %q %q", got.ClientName, got.RemoteAddr)
				}
				if got.Direction != DirectionOut || got.Layer != LayerWire {
					t.Errorf("direction/layer = %v/%v", got.Direction, got.Layer)
				}
			},
		},
		{
			name: "frame",
			event: Event{
				Timestamp: ts,
				Layer:     LayerTransport,
				Frame:     &FrameEvent{Kind: FrameBinary, Size: 4096, Data: []byte{0x94, 0xff}, Truncated: true},
			},
			check: func(t *testing.T, got Event) {
				if got.Frame == nil {
					t.Fatal("Frame is nil")
				}
				if got.Frame.Kind != FrameBinary || got.Frame.Size != 4096 || !got.Frame.Truncated {
					t.Errorf("Frame = %+v", got.Frame)
				}
				if !bytes.Equal(got.Frame.Data, []byte{0x94, 0xff}) {
					t.Errorf("Frame.Data = %x", got.Frame.Data)
				}
			},
		},
		{
			name: "value message",
			event: Event{
				Timestamp: ts,
				Layer:     LayerWire,
				Message: &MessageEvent{
					Type:            MessageTypeValue,
					Topic:           "/posebridge/heartbeat/response",
					TopicID:         7,
					DataType:        "int",
					TimestampMicros: 123456,
					Payload:         "42",
				},
			},
			check: func(t *testing.T, got Event) {
				m := got.Message
				if m == nil {
					t.Fatal("Message is nil")
				}
				if m.Type != MessageTypeValue || m.TopicID != 7 || m.DataType != "int" {
					t.Errorf("Message = %+v", m)
				}
				if m.Topic != "/posebridge/heartbeat/response" || m.TimestampMicros != 123456 {
					t.Errorf("Message = %+v", m)
				}
				if m.Payload != "42" {
					t.Errorf("Payload = %v", m.Payload)
				}
			},
		},
		{
			name: "state change",
			event: Event{
				Timestamp:   ts,
				Layer:       LayerApp,
				Category:    CategoryState,
				StateChange: &StateChangeEvent{Entity: StateEntitySupervisor, OldState: "CONNECTING", NewState: "CONNECTED", Reason: "10.0.0.2"},
			},
			check: func(t *testing.T, got Event) {
				if got.StateChange == nil || *got.StateChange != (StateChangeEvent{Entity: StateEntitySupervisor, OldState: "CONNECTING", NewState: "CONNECTED", Reason: "10.0.0.2"}) {
					t.Errorf("StateChange = %+v", got.StateChange)
				}
			},
		},
		{
			name: "close control",
			event: Event{
				Timestamp:  ts,
				Category:   CategoryControl,
				ControlMsg: &ControlMsgEvent{Type: ControlMsgClose, CloseCode: &code},
			},
			check: func(t *testing.T, got Event) {
				if got.ControlMsg == nil || got.ControlMsg.CloseCode == nil || *got.ControlMsg.CloseCode != code {
					t.Errorf("ControlMsg = %+v", got.ControlMsg)
				}
			},
		},
		{
			name: "error",
			event: Event{
				Timestamp: ts,
				Category:  CategoryError,
				Error:     &ErrorEventData{Layer: LayerWire, Message: "malformed value frame", Class: "protocol", Repeated: 12},
			},
			check: func(t *testing.T, got Event) {
				if got.Error == nil || got.Error.Class != "protocol" || got.Error.Repeated != 12 {
					t.Errorf("Error = %+v", got.Error)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent: %v", err)
			}
			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	e := Event{
		Timestamp: time.Unix(0, 1).UTC(),
		Error:     &ErrorEventData{Message: "x", Context: "y"},
	}
	a, _ := EncodeEvent(e)
	b, _ := EncodeEvent(e)
	if !bytes.Equal(a, b) {
		t.Error("encoding differs between calls")
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error")
	}
}
