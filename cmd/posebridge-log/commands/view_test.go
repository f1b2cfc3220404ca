package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/log"
)

var viewTS = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func render(event log.Event) string {
	var buf bytes.Buffer
	formatEvent(&buf, event)
	return buf.String()
}

func assertContains(t *testing.T, output string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatFrameEvent(t *testing.T) {
	output := render(log.Event{
		Timestamp:    viewTS,
		ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Kind: log.FrameBinary,
			Size: 128,
			Data: []byte{0x94, 0x01, 0x02, 0x03},
		},
	})

	assertContains(t, output,
		"2026-01-28T10:15:32.123456Z",
		"[conn:abc12345]",
		"OUT",
		"TRANSPORT Frame",
		"Kind: BINARY",
		"128 bytes",
		"Data: 94010203",
	)
}

func TestFormatTextFrameTruncated(t *testing.T) {
	output := render(log.Event{
		Timestamp: viewTS,
		Layer:     log.LayerTransport,
		Frame: &log.FrameEvent{
			Kind:      log.FrameText,
			Size:      4096,
			Data:      []byte(`[{"method":"announce"`),
			Truncated: true,
		},
	})

	assertContains(t, output, `Data: [{"method":"announce" (truncated)`, "[conn:-]")
}

func TestFormatControlMessage(t *testing.T) {
	output := render(log.Event{
		Timestamp:    viewTS,
		ConnectionID: "abc12345",
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:    log.MessageTypeControl,
			Method:  "announce",
			Topic:   "/posebridge/cmd/request",
			Payload: map[any]any{"id": uint64(2), "type": "raw"},
		},
	})

	assertContains(t, output,
		"WIRE CONTROL",
		"Method: announce",
		"Topic: /posebridge/cmd/request",
		`"id":2`,
	)
}

func TestFormatValueMessage(t *testing.T) {
	output := render(log.Event{
		Timestamp: viewTS,
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Message: &log.MessageEvent{
			Type:            log.MessageTypeValue,
			Topic:           "/posebridge/heartbeat/request",
			TopicID:         4,
			DataType:        "int",
			TimestampMicros: 1500,
			Payload:         int64(9),
		},
	})

	assertContains(t, output,
		"VALUE",
		"Topic: /posebridge/heartbeat/request (id 4)",
		"Type: int",
		"Timestamp: 1500us",
		"Payload: 9",
	)
}

func TestFormatStateChange(t *testing.T) {
	output := render(log.Event{
		Timestamp: viewTS,
		Layer:     log.LayerApp,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySupervisor,
			OldState: "BACKOFF",
			NewState: "CONNECTING",
			Reason:   "retry",
		},
	})

	assertContains(t, output, "APP State", "Entity: SUPERVISOR", "BACKOFF -> CONNECTING", "Reason: retry")
}

func TestFormatControlFrame(t *testing.T) {
	code := 1001
	output := render(log.Event{
		Timestamp:  viewTS,
		Layer:      log.LayerTransport,
		Category:   log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code},
	})

	assertContains(t, output, "CTRL CLOSE", "Code: 1001")
}

func TestFormatError(t *testing.T) {
	output := render(log.Event{
		Timestamp: viewTS,
		Layer:     log.LayerApp,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:    log.LayerApp,
			Message:  "no executor",
			Class:    "command",
			Context:  "/posebridge/cmd/request",
			Repeated: 3,
		},
	})

	assertContains(t, output, "APP Error", "Message: no executor", "Class: command", "Context: /posebridge/cmd/request", "Repeated: 3")
}

func TestParseFlags(t *testing.T) {
	t.Run("layer", func(t *testing.T) {
		for in, want := range map[string]log.Layer{"transport": log.LayerTransport, "WIRE": log.LayerWire, "App": log.LayerApp} {
			got, err := ParseLayerFlag(in)
			if err != nil || got != want {
				t.Errorf("ParseLayerFlag(%q) = %v, %v; want %v", in, got, err, want)
			}
		}
		if _, err := ParseLayerFlag("service"); err == nil {
			t.Error("expected error for unknown layer")
		}
	})

	t.Run("direction", func(t *testing.T) {
		if d, err := ParseDirectionFlag("OUT"); err != nil || d != log.DirectionOut {
			t.Errorf("ParseDirectionFlag(OUT) = %v, %v", d, err)
		}
		if _, err := ParseDirectionFlag("both"); err == nil {
			t.Error("expected error for unknown direction")
		}
	})

	t.Run("category", func(t *testing.T) {
		if c, err := ParseCategoryFlag("error"); err != nil || c != log.CategoryError {
			t.Errorf("ParseCategoryFlag(error) = %v, %v", c, err)
		}
		if _, err := ParseCategoryFlag("snapshot"); err == nil {
			t.Error("expected error for unknown category")
		}
	})
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, []log.Event{
		{Timestamp: viewTS, Layer: log.LayerWire, Direction: log.DirectionIn,
			Message: &log.MessageEvent{Type: log.MessageTypeControl, Method: "announce"}},
		{Timestamp: viewTS, Layer: log.LayerWire, Direction: log.DirectionOut,
			Message: &log.MessageEvent{Type: log.MessageTypeControl, Method: "publish"}},
		{Timestamp: viewTS, Layer: log.LayerTransport, Direction: log.DirectionOut,
			Frame: &log.FrameEvent{Size: 10}},
	})

	wire := log.LayerWire
	out := log.DirectionOut
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &wire, Direction: &out}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "Method: publish") {
		t.Errorf("expected publish message:\n%s", output)
	}
	if strings.Contains(output, "announce") || strings.Contains(output, "Frame") {
		t.Errorf("filtered events leaked into output:\n%s", output)
	}
}
