package log

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/posebridge/posebridge-go/pkg/fault"
)

func TestDiagnosticsCollapsesRepeats(t *testing.T) {
	var buf bytes.Buffer
	capture := &recorder{}
	d := NewDiagnostics(slog.New(slog.NewTextHandler(&buf, nil)), capture)

	refused := fault.Wrap(fault.Transport, "dial 10.0.0.2", errors.New("connection refused"))
	for i := 0; i < 5; i++ {
		d.Warn(LayerApp, "candidate", refused)
	}
	d.Warn(LayerWire, "", fault.New(fault.Protocol, "malformed value frame"))
	d.Warn(LayerApp, "candidate", refused)

	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}

	batch := d.Flush()
	if len(batch) != 2 {
		t.Fatalf("flushed %d entries, want 2", len(batch))
	}
	if batch[0].Count != 6 || batch[0].Class != fault.Transport {
		t.Errorf("first entry = %+v", batch[0])
	}
	want := "candidate: dial 10.0.0.2: connection refused (repeated 6 times)"
	if batch[0].Text() != want {
		t.Errorf("Text = %q, want %q", batch[0].Text(), want)
	}
	if batch[1].Text() != "malformed value frame" {
		t.Errorf("single entry should have no suffix: %q", batch[1].Text())
	}

	out := buf.String()
	if !strings.Contains(out, "repeated 6 times") || !strings.Contains(out, "class=protocol") {
		t.Errorf("slog output missing entries:\n%s", out)
	}
	if len(capture.events) != 2 || capture.events[0].Error.Repeated != 6 {
		t.Errorf("capture = %+v", capture.events)
	}

	if d.Len() != 0 || len(d.Flush()) != 0 {
		t.Error("queue not emptied by Flush")
	}
}

func TestDiagnosticsHoldsRepeatsAcrossFlushes(t *testing.T) {
	capture := &recorder{}
	d := NewDiagnostics(nil, capture)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return now })

	refused := fault.Wrap(fault.Transport, "dial 10.0.0.2", errors.New("connection refused"))
	const cycles = 5
	var written []Diagnostic
	for i := 0; i < cycles; i++ {
		d.Warn(LayerApp, "candidate", refused)
		written = append(written, d.Flush()...)
		now = now.Add(time.Second)
	}
	if len(written) != 1 || written[0].Count != 1 {
		t.Fatalf("unreachable candidate written %d times: %+v", len(written), written)
	}

	// A different message is not held back.
	d.Warn(LayerApp, "candidate", fault.Wrap(fault.Transport, "dial 10.0.0.3", errors.New("no route to host")))
	if batch := d.Flush(); len(batch) != 1 || !strings.Contains(batch[0].Message, "10.0.0.3") {
		t.Fatalf("new message batch = %+v", batch)
	}

	now = now.Add(DefaultSummaryWindow)
	batch := d.Flush()
	if len(batch) != 1 {
		t.Fatalf("summary batch = %+v, want one entry", batch)
	}
	want := "candidate: dial 10.0.0.2: connection refused (repeated 4 times)"
	if batch[0].Text() != want {
		t.Errorf("summary = %q, want %q", batch[0].Text(), want)
	}
	if n := len(capture.events); n != 3 || capture.events[2].Error.Repeated != cycles-1 {
		t.Errorf("capture = %+v", capture.events)
	}

	// Quiet for a whole window: the next report is written at once.
	now = now.Add(DefaultSummaryWindow)
	if batch := d.Flush(); len(batch) != 0 {
		t.Errorf("quiet window wrote %+v", batch)
	}
	d.Warn(LayerApp, "candidate", refused)
	if batch := d.Flush(); len(batch) != 1 || batch[0].Count != 1 {
		t.Errorf("report after quiet window = %+v", batch)
	}
}

func TestDiagnosticsSummaryWindowDisabled(t *testing.T) {
	d := NewDiagnostics(nil, nil)
	d.SetSummaryWindow(0)
	for i := 0; i < 3; i++ {
		d.Infof(LayerApp, "connected to %s", "10.0.0.2")
		if batch := d.Flush(); len(batch) != 1 {
			t.Fatalf("flush %d wrote %d entries, want 1", i, len(batch))
		}
	}
}

func TestDiagnosticsBounded(t *testing.T) {
	var buf bytes.Buffer
	d := NewDiagnostics(slog.New(slog.NewTextHandler(&buf, nil)), nil)

	for i := 0; i < DefaultDiagnosticsLimit+10; i++ {
		d.Infof(LayerApp, "distinct %d", i)
	}
	if d.Len() != DefaultDiagnosticsLimit {
		t.Errorf("Len = %d, want %d", d.Len(), DefaultDiagnosticsLimit)
	}
	d.Flush()
	if !strings.Contains(buf.String(), "dropped=10") {
		t.Error("dropped count not reported")
	}
}

func TestDiagnosticsInfoNotCaptured(t *testing.T) {
	capture := &recorder{}
	d := NewDiagnostics(nil, capture)
	d.Infof(LayerApp, "connected to %s", "10.0.0.2")
	d.Flush()
	if len(capture.events) != 0 {
		t.Errorf("info entries should not reach the capture: %+v", capture.events)
	}
}

func ExampleDiagnostic_Text() {
	d := Diagnostic{Message: "candidate roborio-5812-frc.local failed", Count: 3}
	fmt.Println(d.Text())
	// Output: candidate roborio-5812-frc.local failed (repeated 3 times)
}
