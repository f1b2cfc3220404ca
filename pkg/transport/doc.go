// Package transport provides the WebSocket layer of the posebridge
// protocol.
//
// The transport layer handles:
//   - Dialing ws://<address>:5810/nt/<client> with the protocol subprotocols
//   - Text (JSON control) and binary (MessagePack value) messages
//   - WebSocket ping/pong keep-alive
//   - Protocol capture of every message in and out
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  JSON control │ MsgPack values │
//	├────────────────────────────────┤
//	│   WebSocket text / binary      │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Keep-Alive
//
// Transport liveness is monitored with WebSocket ping/pong:
//   - Ping interval: 2 seconds
//   - Pong timeout: 1 second
//   - Max missed pongs: 3
//
// Keep-alive only proves the peer's network stack is alive. Application
// liveness is the heartbeat package's job.
package transport
