// Package connection supervises the link to the controller.
//
// The Supervisor owns the current session.Session. It cycles through an
// ordered list of candidate addresses, resolving and dialing each one on
// a background goroutine so that the caller's tick never blocks. Results
// come back over a channel that Tick drains.
//
// # Reconnection Strategy
//
// Within a cycle, a candidate that failed less than Cooldown ago is
// skipped. When every eligible candidate has failed, the next cycle waits
// for the backoff delay:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s
//  3. Maximum delay: 16 seconds
//  4. Reset to 1s on successful connection
//
// Jitter is off by default; set BackoffConfig.Jitter to spread out
// reconnecting fleets.
//
// If the NetworkProbe reports no usable interface, the cycle is skipped
// and retried after UnreachableRetry without touching the backoff.
//
// # Stale Attempts
//
// Every cycle gets a generation number. Results from an older generation,
// and connections that arrive while a session is already up, are closed
// and dropped.
package connection
