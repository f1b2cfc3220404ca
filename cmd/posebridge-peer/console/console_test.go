package console

import (
	"bytes"
	"math"
	"testing"

	"github.com/posebridge/posebridge-go/internal/testpeer"
)

func newPeer(t *testing.T) *testpeer.Peer {
	t.Helper()
	peer, err := testpeer.New(testpeer.Config{})
	if err != nil {
		t.Fatalf("testpeer.New: %v", err)
	}
	return peer
}

func TestExecuteCommands(t *testing.T) {
	peer := newPeer(t)

	tests := []struct {
		line string
		want string
		quit bool
	}{
		{"heading", "Sent HEADING_RESET (id 1)", false},
		{"pose 1 2 0 90", "Sent POSE_RESET (id 2)", false},
		{"PING", "Sent PING (id 3)", false},
		{"idle", "Sent IDLE (id 4)", false},
		{"pose 1 2", "Error: usage", false},
		{"pose a b c", "Error: bad number", false},
		{"freeze", "Heartbeat frozen", false},
		{"unfreeze", "Heartbeat resumed", false},
		{"drop", "Dropped 0 connection(s)", false},
		{"set /bench/speed 2.5", "/bench/speed = 2.5", false},
		{"set /bench/speed", "Usage: set", false},
		{"status", "Connections: 0 (accepted 0)", false},
		{"bogus", "Unknown command: bogus", false},
		{"", "", false},
		{"quit", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var buf bytes.Buffer
			quit := Execute(peer, tt.line, &buf)
			if quit != tt.quit {
				t.Errorf("quit = %v, want %v", quit, tt.quit)
			}
			if !bytes.Contains(buf.Bytes(), []byte(tt.want)) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestSetTypeMismatch(t *testing.T) {
	peer := newPeer(t)
	var buf bytes.Buffer
	Execute(peer, "set /bench/flag true", &buf)
	buf.Reset()

	// The topic exists as boolean now; a string cannot be coerced.
	Execute(peer, "set /bench/flag hello", &buf)
	if !bytes.Contains(buf.Bytes(), []byte("Error:")) {
		t.Errorf("expected error, got %q", buf.String())
	}
}

func TestParsePose(t *testing.T) {
	p, err := parsePose([]string{"1.5", "-2", "0"})
	if err != nil {
		t.Fatalf("parsePose: %v", err)
	}
	if p.Translation.X != 1.5 || p.Translation.Y != -2 {
		t.Errorf("translation = %+v", p.Translation)
	}
	if p.Rotation.W != 1 {
		t.Errorf("rotation = %+v, want identity", p.Rotation)
	}

	p, err = parsePose([]string{"0", "0", "0", "180"})
	if err != nil {
		t.Fatalf("parsePose: %v", err)
	}
	if math.Abs(p.Rotation.W) > 1e-9 || math.Abs(p.Rotation.Z-1) > 1e-9 {
		t.Errorf("yaw 180 rotation = %+v", p.Rotation)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"42", int64(42)},
		{"2.5", 2.5},
		{"hello", "hello"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
