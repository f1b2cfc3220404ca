// Package console provides the interactive command line of
// posebridge-peer.
package console

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/posebridge/posebridge-go/internal/testpeer"
	"github.com/posebridge/posebridge-go/pkg/command"
	"github.com/posebridge/posebridge-go/pkg/pose"
)

// Console drives a test peer from typed commands.
type Console struct {
	peer *testpeer.Peer
	rl   *readline.Instance
}

// New creates a console. Attach a peer before Run; the readline writer is
// available earlier so the peer's logger can use it.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "peer> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Attach sets the peer the commands act on.
func (c *Console) Attach(peer *testpeer.Peer) {
	c.peer = peer
}

// Stdout returns a writer that does not garble the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is done. cancel is called
// when the user quits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	printHelp(c.rl.Stdout())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
		if Execute(c.peer, line, c.rl.Stdout()) {
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line against peer and reports whether the
// user asked to quit.
func Execute(peer *testpeer.Peer, line string, w io.Writer) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		printHelp(w)
	case "heading", "h":
		sendCommand(peer, w, command.HeadingReset{})
	case "pose", "p":
		target, err := parsePose(args)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return false
		}
		sendCommand(peer, w, command.PoseReset{Target: target})
	case "ping":
		sendCommand(peer, w, command.Ping{})
	case "idle":
		sendCommand(peer, w, command.Idle{})
	case "freeze":
		peer.FreezeHeartbeat(true)
		fmt.Fprintln(w, "Heartbeat frozen")
	case "unfreeze", "thaw":
		peer.FreezeHeartbeat(false)
		fmt.Fprintln(w, "Heartbeat resumed")
	case "drop":
		n := peer.Connections()
		peer.DropAll()
		fmt.Fprintf(w, "Dropped %d connection(s)\n", n)
	case "set":
		if len(args) != 2 {
			fmt.Fprintln(w, "Usage: set <topic> <value>")
			return false
		}
		if err := peer.SetValue(args[0], parseValue(args[1])); err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(w, "%s = %s\n", args[0], args[1])
	case "status", "s":
		printStatus(peer, w)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func sendCommand(peer *testpeer.Peer, w io.Writer, cmd command.Command) {
	id := peer.SendCommand(cmd)
	fmt.Fprintf(w, "Sent %s (id %d)\n", cmd.Type(), id)
}

// parsePose reads "x y z [yaw-degrees]".
func parsePose(args []string) (pose.Pose3d, error) {
	if len(args) != 3 && len(args) != 4 {
		return pose.Pose3d{}, fmt.Errorf("usage: pose <x> <y> <z> [yaw-degrees]")
	}
	vals := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return pose.Pose3d{}, fmt.Errorf("bad number %q", a)
		}
		vals[i] = v
	}
	p := pose.Pose3d{
		Translation: pose.Translation{X: vals[0], Y: vals[1], Z: vals[2]},
		Rotation:    pose.Identity(),
	}
	if len(vals) == 4 {
		half := vals[3] * math.Pi / 360
		p.Rotation = pose.Quaternion{W: math.Cos(half), Z: math.Sin(half)}
	}
	return p, nil
}

// parseValue picks the narrowest type that parses: bool, int, float,
// then string.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func printStatus(peer *testpeer.Peer, w io.Writer) {
	fmt.Fprintf(w, "Connections: %d (accepted %d)\n", peer.Connections(), peer.Accepted())
	if fd, ok := peer.LastFrame(); ok {
		t := fd.Pose.Translation
		fmt.Fprintf(w, "Frame:       #%d at (%.3f, %.3f, %.3f) tracking=%v\n", fd.FrameCount, t.X, t.Y, t.Z, fd.IsTracking)
	}
	if d, ok := peer.LastDevice(); ok {
		fmt.Fprintf(w, "Device:      battery %d%% tracking=%v lost=%d\n", d.BatteryPercent, d.IsTracking, d.TrackingLostCounter)
	}
	if r, ok := peer.LastResponse(); ok {
		if r.Success {
			fmt.Fprintf(w, "Response:    id %d ok\n", r.ID)
		} else {
			fmt.Fprintf(w, "Response:    id %d failed: %s\n", r.ID, r.ErrorMessage)
		}
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Peer Commands:
  Commands to the client:
    heading            - Request a heading reset
    pose <x> <y> <z> [yaw]
                       - Request a pose reset (meters, yaw in degrees)
    ping               - Send a ping command
    idle               - Send an idle command

  Faults:
    freeze             - Stop answering heartbeats (connection stays open)
    unfreeze           - Resume answering heartbeats
    drop               - Close every client connection

  Values:
    set <topic> <val>  - Publish a value (bool, int, float or string)
    status             - Show connections and the latest client data

    help               - Show this help
    quit               - Exit`)
}
