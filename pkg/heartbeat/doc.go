// Package heartbeat detects a zombie peer: a connection whose transport is
// still open but whose application has stopped responding.
//
// The device publishes an increasing counter on the request topic and the
// peer echoes it on the response topic. The Monitor is driven by the slow
// tick and never blocks:
//
//	mon := heartbeat.NewMonitor(cc, heartbeat.Config{})
//	mon.Tick(now, sess)
//
// After MaxFailures consecutive unanswered requests the Monitor closes the
// session with ErrPeerUnresponsive and the connection supervisor takes
// over.
package heartbeat
