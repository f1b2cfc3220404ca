// Package log provides protocol capture and batched diagnostics.
//
// Protocol capture is separate from operational logging (slog). It records
// a machine-readable trace of everything the client exchanges with the
// controller: raw WebSocket messages, decoded control and value frames,
// supervisor and session state changes, and errors.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	capture := log.NewSlogAdapter(slog.Default())
//
//	// For field debugging: write to binary file
//	capture, _ := log.NewFileLogger("/var/log/posebridge/session.plog")
//
//	// Both: use MultiLogger
//	capture := log.NewMultiLogger(slogAdapter, fileLogger)
//
// # Diagnostics
//
// Diagnostics queues operational warnings raised on the tick path and
// writes them in batches. Identical entries within a batch collapse into a
// single "repeated N times" line, so a candidate that keeps failing does
// not flood the output.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys and
// use the .plog extension. The posebridge-log tool views, filters, exports
// and summarises them.
package log
