// Package bridge wires the client components into the two-rate tick loop.
//
// The fast tick publishes the current pose frame and runs the command
// dispatcher. The slow tick maintains the connection: it advances the
// supervisor, runs the heartbeat, publishes device health, refreshes the
// clock offset and flushes batched diagnostics.
//
// Both ticks run on the goroutine that calls Run (or on the caller's own
// goroutine when FastTick and SlowTick are driven directly). Only the
// supervisor's connect cycle and the optional mDNS browser run elsewhere,
// and they hand results over through channels drained on the slow tick.
package bridge
