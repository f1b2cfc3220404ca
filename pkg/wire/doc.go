// Package wire defines the posebridge wire format.
//
// The protocol runs over a single WebSocket connection with two channels:
//
//   - Control channel: text frames carrying a JSON array of method objects
//     (publish, unpublish, subscribe, unsubscribe from the client; announce,
//     unannounce, properties from the peer).
//   - Value channel: binary frames carrying one or more concatenated
//     MessagePack arrays of the form [topicID, timestampMicros, typeIdx, value].
//
// # Topic Identifiers
//
// Outbound values are keyed by the publisher UID the client assigned in its
// publish message. Inbound values are keyed by the topic ID the peer assigned
// in its announce message. The identifier -1 is reserved for clock
// synchronization and never names a topic.
//
// # Timestamps
//
// Value timestamps are integer microseconds on the sender's clock. The
// receiver translates them using the offset from clock synchronization.
package wire
