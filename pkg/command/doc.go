// Package command implements the command/response protocol carried on the
// request and response topics.
//
// The peer writes an Envelope to the request topic; the Dispatcher polls
// the latest value each fast tick, runs the command at most once per
// command ID and publishes a Response with the same ID. Ping is answered
// directly. Heading and pose resets are delegated to an Executor supplied
// by the application.
package command
