package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/log"
)

func TestStatsCountsByLayer(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []log.Event{
		{Timestamp: ts, Layer: log.LayerTransport},
		{Timestamp: ts, Layer: log.LayerTransport},
		{Timestamp: ts, Layer: log.LayerWire},
		{Timestamp: ts, Layer: log.LayerApp},
	})

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{"TRANSPORT:", "WIRE:", "APP:", "Total Events: 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestStatsSessions(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []log.Event{
		{Timestamp: ts, Layer: log.LayerApp, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySupervisor, NewState: "CONNECTING"}},
		{Timestamp: ts, ConnectionID: "aaaaaaaa-1111", RemoteAddr: "10.0.0.2:5810", ClientName: "posebridge",
			Direction: log.DirectionOut, Message: &log.MessageEvent{Type: log.MessageTypeValue}},
		{Timestamp: ts.Add(time.Second), ConnectionID: "aaaaaaaa-1111", Direction: log.DirectionIn,
			Message: &log.MessageEvent{Type: log.MessageTypeValue}},
		{Timestamp: ts.Add(2 * time.Second), ConnectionID: "aaaaaaaa-1111", Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: "open", NewState: "closed", Reason: "heartbeat timeout"}},
		{Timestamp: ts.Add(3 * time.Second), ConnectionID: "bbbbbbbb-2222"},
	})

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Sessions: 2",
		"[aaaaaaaa] 3 events, duration 2s",
		"Peer: 10.0.0.2:5810",
		"Client: posebridge",
		"Values: 1 in, 1 out",
		"Closed: heartbeat timeout",
		"[bbbbbbbb] 1 events",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if strings.Index(output, "[aaaaaaaa]") > strings.Index(output, "[bbbbbbbb]") {
		t.Error("sessions should be ordered by first appearance")
	}
}

func TestStatsErrorsByClass(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []log.Event{
		{Timestamp: ts, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "a", Class: "transport", Repeated: 4}},
		{Timestamp: ts, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "b", Class: "command"}},
		{Timestamp: ts, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "c"}},
	})

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{"Errors: 6", "transport:   4", "command:     1", "unknown:     1"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestStatsMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := RunStats("/nonexistent/capture.plog", &buf); err == nil {
		t.Error("expected error for missing file")
	}
}
