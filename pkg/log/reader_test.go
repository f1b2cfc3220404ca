package log

import (
	"io"
	"os"
	"testing"
	"time"
)

func writeCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := capturePath(t)
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range events {
		l.Log(e)
	}
	l.Close()
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, e)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "a", Direction: DirectionOut, Layer: LayerWire, Category: CategoryMessage, RemoteAddr: "10.0.0.2:5810"},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage, RemoteAddr: "10.0.0.2:5810"},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Direction: DirectionIn, Layer: LayerApp, Category: CategoryState, RemoteAddr: "172.22.11.2:5810"},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Direction: DirectionIn, Layer: LayerApp, Category: CategoryError, ClientName: "tracker"},
	}
	path := writeCapture(t, events)

	in := DirectionIn
	app := LayerApp
	state := CategoryState
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "a"}, 2},
		{"direction", Filter{Direction: &in}, 3},
		{"layer", Filter{Layer: &app}, 2},
		{"category", Filter{Category: &state}, 1},
		{"remote", Filter{RemoteAddr: "172.22.11.2:5810"}, 1},
		{"client", Filter{ClientName: "tracker"}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{ConnectionID: "b", Layer: &app, Category: &state}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if got := len(readAll(t, r)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderEmptyFile(t *testing.T) {
	r, err := NewReader(writeCapture(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next on empty file = %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader("/nonexistent/capture.plog"); err == nil {
		t.Error("expected error")
	}
}

func TestReaderAll(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeCapture(t, []Event{
		{Timestamp: base, ConnectionID: "a", Layer: LayerWire},
		{Timestamp: base, ConnectionID: "b", Layer: LayerWire},
		{Timestamp: base, ConnectionID: "a", Layer: LayerApp},
	})
	r, err := NewFilteredReader(path, Filter{ConnectionID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var layers []Layer
	for e, err := range r.All() {
		if err != nil {
			t.Fatal(err)
		}
		layers = append(layers, e.Layer)
	}
	if len(layers) != 2 || layers[0] != LayerWire || layers[1] != LayerApp {
		t.Errorf("layers = %v", layers)
	}
	if r.Read() != 3 {
		t.Errorf("Read() = %d, want 3", r.Read())
	}
	if r.Truncated() {
		t.Error("complete file reported truncated")
	}
}

func TestReaderTruncatedTail(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := writeCapture(t, []Event{
		{Timestamp: base, ConnectionID: "a", Layer: LayerWire, Category: CategoryMessage},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Layer: LayerWire, Category: CategoryMessage, RemoteAddr: "10.0.0.2:5810"},
	})
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := len(readAll(t, r)); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
	if !r.Truncated() {
		t.Error("Truncated() = false")
	}
}
