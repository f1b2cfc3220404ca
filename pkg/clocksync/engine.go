// Package clocksync estimates the offset between the local clock and the
// peer's clock using round trips on the reserved clock-sync topic.
package clocksync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/posebridge/posebridge-go/pkg/wire"
)

// Errors returned by HandleEcho.
var (
	ErrNotClockSync  = errors.New("frame is not a clock-sync frame")
	ErrNoRequest     = errors.New("no clock-sync request in flight")
	ErrStaleEcho     = errors.New("echo does not match the request in flight")
	ErrNegativeRTT   = errors.New("echo received before it was sent")
	ErrMalformedEcho = errors.New("clock-sync echo has a non-integer payload")
)

// State is the current clock estimate. Offset and RoundTrip are only
// meaningful when Valid is true.
type State struct {
	OffsetMicros    int64
	RoundTripMicros int64
	Valid           bool
}

// Engine is a single-sample estimator: each completed round trip fully
// replaces the previous estimate. An Engine belongs to one session; a new
// session gets a new Engine so offsets never carry across connections.
type Engine struct {
	mu sync.Mutex

	inFlight bool
	sentAt   int64

	state State
}

// New creates an engine with no valid estimate.
func New() *Engine {
	return &Engine{}
}

// Request returns the outbound frame [-1, 0, int, now] and records now as
// the send time of the round trip in flight. A later request supersedes an
// earlier one that was never answered.
func (e *Engine) Request(nowMicros int64) wire.Frame {
	e.mu.Lock()
	e.inFlight = true
	e.sentAt = nowMicros
	e.mu.Unlock()

	return wire.Frame{
		TopicID:   wire.ClockSyncTopicID,
		Timestamp: 0,
		Type:      wire.TypeInt,
		Value:     nowMicros,
	}
}

// HandleEcho completes a round trip. The echo carries the peer time in the
// timestamp field and the original send time as its value.
func (e *Engine) HandleEcho(f wire.Frame, receiveMicros int64) error {
	if !f.IsClockSync() {
		return ErrNotClockSync
	}
	sent, ok := f.Value.(int64)
	if !ok {
		return fmt.Errorf("%w: %T", ErrMalformedEcho, f.Value)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inFlight {
		return ErrNoRequest
	}
	if sent != e.sentAt {
		return fmt.Errorf("%w: got %d, want %d", ErrStaleEcho, sent, e.sentAt)
	}
	rtt := receiveMicros - sent
	if rtt < 0 {
		return fmt.Errorf("%w: rtt=%dus", ErrNegativeRTT, rtt)
	}

	latency := rtt / 2
	e.state = State{
		OffsetMicros:    (f.Timestamp + latency) - receiveMicros,
		RoundTripMicros: rtt,
		Valid:           true,
	}
	e.inFlight = false
	return nil
}

// PeerTime translates a local timestamp into peer time. The bool is false
// until a round trip has completed.
func (e *Engine) PeerTime(localMicros int64) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Valid {
		return 0, false
	}
	return localMicros + e.state.OffsetMicros, true
}

// State returns a snapshot of the estimate.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending reports whether a request is awaiting its echo.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Reset discards the estimate and any request in flight.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
	e.sentAt = 0
	e.state = State{}
}
